// Command envctl runs a coordination-fabric controller process: it
// binds the command and request endpoints, accepts workers, and
// drives the environment fleet through the façade described in
// SPEC_FULL.md §6 (Init/Reset/StepAsync/StepWait/Close).
//
// A real training program links package controller directly and calls
// that façade itself; this binary exists so the fleet can be smoke-
// tested standalone, the way the teacher's own "daemon" subcommand can
// be run on its own against nothing but curl. With -episodes=0 (the
// default) it just serves and logs the first worker's spaces payload;
// pass -episodes/-steps to have it drive a self-contained reset/step
// loop with an empty actions payload, which is enough to exercise
// every worker through a full episode without a separate training
// process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sneller-labs/vecenv/controller"
)

func main() {
	fs := flag.NewFlagSet("envctl", flag.ExitOnError)
	lockPath := fs.String("lock", "", "path to an advisory startup lock file (optional)")
	episodes := fs.Int("episodes", 0, "number of self-driven episodes to run (0: serve only, drive nothing)")
	steps := fs.Int("steps", 100, "steps per self-driven episode")

	cfg, err := controller.ParseFlags(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "envctl: ", log.LstdFlags|log.Lmsgprefix)

	var lock *controller.StartupLock
	if *lockPath != "" {
		lock, err = controller.AcquireStartupLock(context.Background(), *lockPath, 10*time.Second)
		if err != nil {
			logger.Fatal(err)
		}
		defer lock.Release(logger)
	}

	c, err := controller.New(cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := c.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("serve: %v", err)
		}
	}()

	logger.Printf("controller %x listening: command=%s request=%s environments=%d",
		c.InstanceID(), c.CommandAddr(), c.RequestAddr(), cfg.NumEnvironments)

	done := make(chan struct{})
	go func() {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		spaces, err := c.Init(initCtx)
		cancel()
		if err != nil {
			logger.Printf("init: waiting for first CONNECT: %v", err)
			return
		}
		logger.Printf("init: observation/action spaces: %s", spaces)
	}()
	if *episodes > 0 {
		go func() {
			defer close(done)
			driveEpisodes(ctx, logger, c, *episodes, *steps)
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
	}

	cancel()
	if err := c.Close(); err != nil {
		logger.Printf("close: %v", err)
	}
}

// driveEpisodes runs a minimal reset/step loop against the controller
// façade, enough to walk every connected worker through full episodes
// without a separate training process attached.
func driveEpisodes(ctx context.Context, logger *log.Logger, c *controller.Controller, episodes, steps int) {
	for ep := 0; ep < episodes; ep++ {
		resetCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		batch, err := c.Reset(resetCtx)
		cancel()
		if err != nil {
			logger.Printf("episode %d: reset: %v", ep, err)
			return
		}
		logger.Printf("episode %d: reset, %d slots", ep, len(batch.Observations))

		for step := 0; step < steps; step++ {
			if err := c.StepAsync(nil); err != nil {
				logger.Printf("episode %d step %d: step_async: %v", ep, step, err)
				return
			}
			stepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			batch, err = c.StepWait(stepCtx)
			cancel()
			if err != nil {
				logger.Printf("episode %d step %d: step_wait: %v", ep, step, err)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
		logger.Println(summarize(episodes, ep, batch))
	}
}

func summarize(episodes, ep int, batch *controller.Batch) string {
	doneCount := 0
	for _, d := range batch.Dones {
		if d {
			doneCount++
		}
	}
	return fmt.Sprintf("episode %d/%d complete: %d/%d slots done", ep+1, episodes, doneCount, len(batch.Dones))
}
