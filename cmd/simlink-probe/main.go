// simlink-probe is a command-line exercise tool: it connects to a simulation
// server, confirms the session, and runs a short command sequence covering
// image capture and the pause/continue flow.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"simlink/pkg/rpc"
	"simlink/pkg/sim"
	"simlink/pkg/transport/factory"
)

func main() {
	kind := flag.String("kind", "tcp", "transport kind: tcp|quic|mem|winpipe")
	addr := flag.String("addr", "127.0.0.1:41451", "address to connect to")
	confirm := flag.Duration("confirm-timeout", 30*time.Second, "connection confirmation budget")
	callTimeout := flag.Duration("call-timeout", 60*time.Second, "per-call response budget")
	strict := flag.Bool("strict", false, "fail on version mismatch instead of warning")
	continueFor := flag.Float64("continue-for", 2.0, "seconds to run the pause/continue maneuver")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	tr, err := factory.NewByKind(*kind)
	if err != nil {
		fatalf("new transport: %v", err)
	}

	cl, err := sim.Connect(rpc.Options{
		Address:     *addr,
		Transport:   tr,
		CallTimeout: *callTimeout,
		Strict:      *strict,
		Progress:    os.Stdout,
	})
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *confirm)
	defer cancel()
	info, err := cl.ConfirmConnection(ctx)
	if err != nil {
		fatalf("confirm connection: %v", err)
	}
	fmt.Println(info.Banner())

	if !cl.Ping() {
		fatalf("server did not answer ping")
	}

	if err := cl.EnableApiControl(true); err != nil {
		fatalf("enable api control: %v", err)
	}
	if ok, err := cl.ArmDisarm(true); err != nil || !ok {
		fatalf("arm: ok=%v err=%v", ok, err)
	}

	home, err := cl.GetHomeGeoPoint()
	if err != nil {
		fatalf("home geo point: %v", err)
	}
	fmt.Printf("Home: lat=%.6f lon=%.6f alt=%.1f\n", home.Latitude, home.Longitude, home.Altitude)

	// stereo-style batch: two scene cameras plus a depth pass
	images, err := cl.SimGetImages([]sim.ImageRequest{
		{CameraID: 1, ImageType: sim.ImageScene, Compress: true},
		{CameraID: 2, ImageType: sim.ImageScene, Compress: true},
		{CameraID: 0, ImageType: sim.ImageDepthPerspective, PixelsAsFloat: true},
	})
	if err != nil {
		fatalf("sim get images: %v", err)
	}
	for _, img := range images {
		fmt.Printf("image type=%d %dx%d %d bytes %q\n",
			img.ImageType, img.Width, img.Height, len(img.ImageData), img.Message)
	}

	// pause/continue: freeze the clock, let it run briefly, wait for re-pause
	if err := cl.SimPause(true); err != nil {
		fatalf("pause: %v", err)
	}
	task, err := cl.SimContinueForTime(*continueFor)
	if err != nil {
		fatalf("continue for time: %v", err)
	}
	budget := time.Duration((*continueFor)*float64(time.Second)) + 5*time.Second
	if !task.Wait(budget) {
		fatalf("maneuver did not complete (outcome %s)", task.Outcome())
	}
	paused, err := cl.SimIsPaused()
	if err != nil {
		fatalf("is paused: %v", err)
	}
	fmt.Println("maneuver complete; paused:", paused)

	if err := cl.SimPause(false); err != nil {
		fatalf("unpause: %v", err)
	}
	if err := cl.SimPrintLogMessage("probe status: ", "done", sim.LogInfo); err != nil {
		fatalf("print log message: %v", err)
	}
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
