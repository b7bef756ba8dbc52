package sim

import (
    "context"
    "errors"
    "math"
    "testing"
    "time"

    "simlink/pkg/rpc"
    "simlink/pkg/transport/mem"
)

// startSim brings up a backend-served simulator on an in-process transport
// and returns a confirmed client against it.
func startSim(t *testing.T) *Client {
    t.Helper()
    tr := mem.New()
    srv, err := rpc.NewServer(rpc.ServerOptions{})
    if err != nil {
        t.Fatalf("new server: %v", err)
    }
    NewBackend().Register(srv)
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    l, err := tr.Listen(ctx, "sim")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    go func() { _ = srv.Serve(ctx, l) }()

    cl, err := Connect(rpc.Options{
        Address:      "sim",
        Transport:    tr,
        PollInterval: 5 * time.Millisecond,
        CallTimeout:  2 * time.Second,
    })
    if err != nil {
        t.Fatalf("connect: %v", err)
    }
    t.Cleanup(func() { _ = cl.Close() })
    cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer ccancel()
    if _, err := cl.ConfirmConnection(cctx); err != nil {
        t.Fatalf("confirm connection: %v", err)
    }
    return cl
}

func TestPingAndVersion(t *testing.T) {
    cl := startSim(t)
    if !cl.Ping() {
        t.Fatal("ping = false")
    }
    info, err := cl.Session().NegotiateVersion()
    if err != nil {
        t.Fatalf("negotiate: %v", err)
    }
    if info.ServerVersion != rpc.ServerVersion {
        t.Fatalf("server version = %d", info.ServerVersion)
    }
}

func TestApiControlAndArming(t *testing.T) {
    cl := startSim(t)

    enabled, err := cl.IsApiControlEnabled()
    if err != nil {
        t.Fatalf("is api control enabled: %v", err)
    }
    if enabled {
        t.Fatal("api control enabled before request")
    }

    // arming without api control is refused by the vehicle
    _, err = cl.ArmDisarm(true)
    var re *rpc.RemoteError
    if !errors.As(err, &re) {
        t.Fatalf("err = %v, want *rpc.RemoteError", err)
    }

    if err := cl.EnableApiControl(true); err != nil {
        t.Fatalf("enable api control: %v", err)
    }
    enabled, err = cl.IsApiControlEnabled()
    if err != nil || !enabled {
        t.Fatalf("enabled = %v, err = %v", enabled, err)
    }
    ok, err := cl.ArmDisarm(true)
    if err != nil || !ok {
        t.Fatalf("arm = %v, err = %v", ok, err)
    }
}

func TestHomeGeoPoint(t *testing.T) {
    cl := startSim(t)
    home, err := cl.GetHomeGeoPoint()
    if err != nil {
        t.Fatalf("home: %v", err)
    }
    if home.Latitude == 0 || home.Longitude == 0 {
        t.Fatalf("home = %+v", home)
    }
}

func TestVehiclePose(t *testing.T) {
    cl := startSim(t)
    want := Pose{Position: Vector3{X: 100, Y: -3, Z: -10}, Orientation: Identity()}
    if err := cl.SimSetVehiclePose(want, true); err != nil {
        t.Fatalf("set pose: %v", err)
    }
    got, err := cl.SimGetVehiclePose()
    if err != nil {
        t.Fatalf("get pose: %v", err)
    }
    if got != want {
        t.Fatalf("pose = %+v, want %+v", got, want)
    }
}

func TestSetPoseCollision(t *testing.T) {
    cl := startSim(t)
    // Gate01 sits at (10, 0, -2); moving onto it without ignore fails
    onGate := Pose{Position: Vector3{X: 10, Y: 0, Z: -2}, Orientation: Identity()}
    err := cl.SimSetVehiclePose(onGate, false)
    var re *rpc.RemoteError
    if !errors.As(err, &re) {
        t.Fatalf("err = %v, want *rpc.RemoteError", err)
    }
    ci, err := cl.GetCollisionInfo()
    if err != nil {
        t.Fatalf("collision info: %v", err)
    }
    if !ci.HasCollided || ci.ObjectName != "Gate01" || ci.CollisionCount != 1 {
        t.Fatalf("collision = %+v", ci)
    }

    // same move with ignore succeeds
    if err := cl.SimSetVehiclePose(onGate, true); err != nil {
        t.Fatalf("set pose ignoring collision: %v", err)
    }
}

func TestObjectPose(t *testing.T) {
    cl := startSim(t)
    p, err := cl.SimGetObjectPose("Gate01")
    if err != nil {
        t.Fatalf("object pose: %v", err)
    }
    if p.Position.X != 10 {
        t.Fatalf("pose = %+v", p)
    }
    // unknown objects come back as NaN poses, not errors
    p, err = cl.SimGetObjectPose("Ghost")
    if err != nil {
        t.Fatalf("unknown object pose: %v", err)
    }
    if !math.IsNaN(float64(p.Position.X)) {
        t.Fatalf("unknown object pose = %+v, want NaNs", p)
    }
}

func TestSegmentation(t *testing.T) {
    cl := startSim(t)

    ok, err := cl.SimSetSegmentationObjectID("Gate01", 7, false)
    if err != nil || !ok {
        t.Fatalf("set = %v, err = %v", ok, err)
    }
    id, err := cl.SimGetSegmentationObjectID("Gate01")
    if err != nil || id != 7 {
        t.Fatalf("id = %d, err = %v", id, err)
    }

    // regex form hits every gate
    ok, err = cl.SimSetSegmentationObjectID("Gate.*", 42, true)
    if err != nil || !ok {
        t.Fatalf("regex set = %v, err = %v", ok, err)
    }
    for _, name := range []string{"Gate01", "Gate02"} {
        id, err := cl.SimGetSegmentationObjectID(name)
        if err != nil || id != 42 {
            t.Fatalf("%s id = %d, err = %v", name, id, err)
        }
    }

    // misses report false / -1 rather than failing
    ok, err = cl.SimSetSegmentationObjectID("Ghost", 1, false)
    if err != nil || ok {
        t.Fatalf("unknown set = %v, err = %v", ok, err)
    }
    id, err = cl.SimGetSegmentationObjectID("Ghost")
    if err != nil || id != -1 {
        t.Fatalf("unknown id = %d, err = %v", id, err)
    }

    if _, err := cl.SimSetSegmentationObjectID("Gate[", 1, true); err == nil {
        t.Fatal("expected error for invalid pattern")
    }
}

func TestImageBatch(t *testing.T) {
    cl := startSim(t)
    images, err := cl.SimGetImages([]ImageRequest{
        {CameraID: 1, ImageType: ImageScene, Compress: true},
        {CameraID: 2, ImageType: ImageScene, Compress: true},
        {CameraID: 0, ImageType: ImageDepthPerspective, PixelsAsFloat: true},
        {CameraID: 9, ImageType: ImageScene},
    })
    if err != nil {
        t.Fatalf("sim get images: %v", err)
    }
    if len(images) != 4 {
        t.Fatalf("got %d responses", len(images))
    }
    for i, img := range images[:3] {
        if len(img.ImageData) == 0 {
            t.Fatalf("image %d is empty", i)
        }
        if img.Width == 0 || img.Height == 0 {
            t.Fatalf("image %d has no dimensions", i)
        }
    }
    if len(images[2].ImageData) != 256*144*4 {
        t.Fatalf("float image has %d bytes", len(images[2].ImageData))
    }
    // the bad camera yields an empty capture with a message
    if len(images[3].ImageData) != 0 || images[3].Message == "" {
        t.Fatalf("bad camera response = %+v", images[3])
    }
}

func TestSingleImageEmptyOnBadCamera(t *testing.T) {
    cl := startSim(t)
    img, err := cl.SimGetImage(0, ImageScene)
    if err != nil {
        t.Fatalf("sim get image: %v", err)
    }
    if len(img) == 0 {
        t.Fatal("image is empty")
    }
    img, err = cl.SimGetImage(9, ImageScene)
    if err != nil {
        t.Fatalf("sim get image bad camera: %v", err)
    }
    if len(img) != 0 {
        t.Fatalf("bad camera image = %d bytes, want empty", len(img))
    }
}

func TestCameraInfo(t *testing.T) {
    cl := startSim(t)
    ci, err := cl.SimGetCameraInfo(0)
    if err != nil {
        t.Fatalf("camera info: %v", err)
    }
    if ci.FOV != 90 {
        t.Fatalf("fov = %v", ci.FOV)
    }

    q := Quaternion{W: 0.707, Z: 0.707}
    if err := cl.SimSetCameraOrientation(0, q); err != nil {
        t.Fatalf("set orientation: %v", err)
    }
    ci, err = cl.SimGetCameraInfo(0)
    if err != nil {
        t.Fatalf("camera info: %v", err)
    }
    if ci.Pose.Orientation != q {
        t.Fatalf("orientation = %+v", ci.Pose.Orientation)
    }

    if _, err := cl.SimGetCameraInfo(9); err == nil {
        t.Fatal("expected error for unknown camera")
    }
}

func TestPauseContinue(t *testing.T) {
    cl := startSim(t)

    paused, err := cl.SimIsPaused()
    if err != nil || paused {
        t.Fatalf("paused = %v, err = %v", paused, err)
    }
    if err := cl.SimPause(true); err != nil {
        t.Fatalf("pause: %v", err)
    }
    paused, _ = cl.SimIsPaused()
    if !paused {
        t.Fatal("not paused after SimPause(true)")
    }

    task, err := cl.SimContinueForTime(0.05)
    if err != nil {
        t.Fatalf("continue for time: %v", err)
    }
    if !task.Wait(2 * time.Second) {
        t.Fatalf("maneuver wait = false, outcome %s", task.Outcome())
    }
    paused, err = cl.SimIsPaused()
    if err != nil || !paused {
        t.Fatalf("paused = %v after maneuver, err = %v", paused, err)
    }
}

func TestContinueForTimeCancel(t *testing.T) {
    cl := startSim(t)
    if err := cl.SimPause(true); err != nil {
        t.Fatalf("pause: %v", err)
    }
    task, err := cl.SimContinueForTime(30)
    if err != nil {
        t.Fatalf("continue for time: %v", err)
    }
    if err := cl.CancelLastTask(); err != nil {
        t.Fatalf("cancel: %v", err)
    }
    select {
    case <-task.Done():
    case <-time.After(2 * time.Second):
        t.Fatal("maneuver did not resolve after cancel")
    }
    if task.Outcome() != rpc.TaskCancelled {
        t.Fatalf("outcome = %s, want cancelled", task.Outcome())
    }
    paused, err := cl.SimIsPaused()
    if err != nil || !paused {
        t.Fatalf("paused = %v after cancel, err = %v", paused, err)
    }
}

func TestWaitOnLastTask(t *testing.T) {
    cl := startSim(t)
    // nothing outstanding counts as done
    if !cl.WaitOnLastTask(10 * time.Millisecond) {
        t.Fatal("wait with no task = false")
    }
    if err := cl.SimPause(true); err != nil {
        t.Fatalf("pause: %v", err)
    }
    if _, err := cl.SimContinueForTime(0.05); err != nil {
        t.Fatalf("continue for time: %v", err)
    }
    if !cl.WaitOnLastTask(2 * time.Second) {
        t.Fatal("wait on maneuver = false")
    }
}

func TestPrintLogMessageAndReset(t *testing.T) {
    cl := startSim(t)
    if err := cl.SimPrintLogMessage("status: ", "ready", LogInfo); err != nil {
        t.Fatalf("print log message: %v", err)
    }
    if err := cl.EnableApiControl(true); err != nil {
        t.Fatalf("enable api control: %v", err)
    }
    if err := cl.Reset(); err != nil {
        t.Fatalf("reset: %v", err)
    }
    enabled, err := cl.IsApiControlEnabled()
    if err != nil || enabled {
        t.Fatalf("api control survived reset: %v, err = %v", enabled, err)
    }
}
