package sim

import (
    "context"
    "encoding/binary"
    "errors"
    "fmt"
    "math"
    "regexp"
    "sync"
    "time"

    "go.uber.org/zap"

    "simlink/pkg/rpc"
)

var errNoApiControl = errors.New("vehicle api control is not enabled")

// Backend is an in-memory vehicle simulation backing a server: a single
// vehicle with pose, collision and camera state, a pause clock and a
// segmentation table. It implements every operation the client exposes and
// serves as the reference peer for integration tests and the daemon binary.
type Backend struct {
    mu           sync.Mutex
    apiControl   bool
    armed        bool
    paused       bool
    home         GeoPoint
    vehiclePose  Pose
    objects      map[string]Pose
    segmentation map[string]int
    cameras      map[int]CameraInfo
    collision    CollisionInfo
    start        time.Time
}

// NewBackend builds a backend with a small default scene: three forward
// cameras and a handful of named objects.
func NewBackend() *Backend {
    b := &Backend{start: time.Now()}
    b.resetLocked()
    return b
}

func (b *Backend) resetLocked() {
    b.apiControl = false
    b.armed = false
    b.paused = false
    b.home = GeoPoint{Latitude: 47.641468, Longitude: -122.140165, Altitude: 122}
    b.vehiclePose = Pose{Orientation: Identity()}
    b.objects = map[string]Pose{
        "Gate01": {Position: Vector3{X: 10, Y: 0, Z: -2}, Orientation: Identity()},
        "Gate02": {Position: Vector3{X: 20, Y: 4, Z: -2}, Orientation: Identity()},
        "Tree_7": {Position: Vector3{X: 5, Y: -8, Z: 0}, Orientation: Identity()},
    }
    b.segmentation = make(map[string]int)
    b.cameras = map[int]CameraInfo{
        0: {Pose: Pose{Position: Vector3{X: 0.5}, Orientation: Identity()}, FOV: 90},
        1: {Pose: Pose{Position: Vector3{X: 0.5, Y: -0.25}, Orientation: Identity()}, FOV: 90},
        2: {Pose: Pose{Position: Vector3{X: 0.5, Y: 0.25}, Orientation: Identity()}, FOV: 90},
    }
    b.collision = CollisionInfo{ObjectID: -1}
}

// now is the monotonic simulation timestamp in nanoseconds.
func (b *Backend) now() uint64 { return uint64(time.Since(b.start)) }

// Register installs every simulator operation on the server. ping and the
// version queries are already built in.
func (b *Backend) Register(s *rpc.Server) {
    s.Handle("reset", b.reset)
    s.Handle("enableApiControl", b.enableApiControl)
    s.Handle("isApiControlEnabled", b.isApiControlEnabled)
    s.Handle("armDisarm", b.armDisarm)
    s.Handle("getHomeGeoPoint", b.getHomeGeoPoint)
    s.Handle("getCollisionInfo", b.getCollisionInfo)
    s.Handle("simGetVehiclePose", b.simGetVehiclePose)
    s.Handle("simSetVehiclePose", b.simSetVehiclePose)
    s.Handle("simGetObjectPose", b.simGetObjectPose)
    s.Handle("simSetSegmentationObjectID", b.simSetSegmentationObjectID)
    s.Handle("simGetSegmentationObjectID", b.simGetSegmentationObjectID)
    s.Handle("simGetImages", b.simGetImages)
    s.Handle("simGetImage", b.simGetImage)
    s.Handle("simGetCameraInfo", b.simGetCameraInfo)
    s.Handle("simSetCameraOrientation", b.simSetCameraOrientation)
    s.Handle("simPrintLogMessage", b.simPrintLogMessage)
    s.Handle("simIsPaused", b.simIsPaused)
    s.Handle("simPause", b.simPause)
    s.HandleTask("simContinueForTime", b.simContinueForTime)
}

func (b *Backend) reset(context.Context, *rpc.Args) (any, error) {
    b.mu.Lock(); defer b.mu.Unlock()
    b.resetLocked()
    return nil, nil
}

func (b *Backend) enableApiControl(_ context.Context, args *rpc.Args) (any, error) {
    var enable bool
    if err := args.Decode(0, &enable); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    b.apiControl = enable
    if !enable { b.armed = false }
    return nil, nil
}

func (b *Backend) isApiControlEnabled(context.Context, *rpc.Args) (any, error) {
    b.mu.Lock(); defer b.mu.Unlock()
    return b.apiControl, nil
}

func (b *Backend) armDisarm(_ context.Context, args *rpc.Args) (any, error) {
    var arm bool
    if err := args.Decode(0, &arm); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    if !b.apiControl { return nil, errNoApiControl }
    b.armed = arm
    return true, nil
}

func (b *Backend) getHomeGeoPoint(context.Context, *rpc.Args) (any, error) {
    b.mu.Lock(); defer b.mu.Unlock()
    return b.home, nil
}

func (b *Backend) getCollisionInfo(context.Context, *rpc.Args) (any, error) {
    b.mu.Lock(); defer b.mu.Unlock()
    return b.collision, nil
}

func (b *Backend) simGetVehiclePose(context.Context, *rpc.Args) (any, error) {
    b.mu.Lock(); defer b.mu.Unlock()
    return b.vehiclePose, nil
}

func (b *Backend) simSetVehiclePose(_ context.Context, args *rpc.Args) (any, error) {
    var p Pose
    var ignoreCollision bool
    if err := args.Decode(0, &p); err != nil { return nil, err }
    if err := args.Decode(1, &ignoreCollision); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    if !ignoreCollision {
        if hit, info := b.collideLocked(p.Position); hit {
            b.collision = info
            return nil, fmt.Errorf("pose intersects object %q", info.ObjectName)
        }
    }
    b.vehiclePose = p
    return nil, nil
}

// collideLocked is a crude sphere test against the named objects.
func (b *Backend) collideLocked(pos Vector3) (bool, CollisionInfo) {
    for name, op := range b.objects {
        dx := float64(pos.X - op.Position.X)
        dy := float64(pos.Y - op.Position.Y)
        dz := float64(pos.Z - op.Position.Z)
        d := math.Sqrt(dx*dx + dy*dy + dz*dz)
        if d < 1.0 {
            return true, CollisionInfo{
                HasCollided:      true,
                Normal:           Vector3{Z: -1},
                ImpactPoint:      op.Position,
                Position:         pos,
                PenetrationDepth: float32(1.0 - d),
                TimeStamp:        b.now(),
                ObjectName:       name,
                ObjectID:         b.segmentation[name],
                CollisionCount:   b.collision.CollisionCount + 1,
            }
        }
    }
    return false, CollisionInfo{}
}

func (b *Backend) simGetObjectPose(_ context.Context, args *rpc.Args) (any, error) {
    var name string
    if err := args.Decode(0, &name); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    if p, ok := b.objects[name]; ok { return p, nil }
    nan := float32(math.NaN())
    return Pose{
        Position:    Vector3{X: nan, Y: nan, Z: nan},
        Orientation: Quaternion{W: nan, X: nan, Y: nan, Z: nan},
    }, nil
}

func (b *Backend) simSetSegmentationObjectID(_ context.Context, args *rpc.Args) (any, error) {
    var name string
    var id int
    var isRegex bool
    if err := args.Decode(0, &name); err != nil { return nil, err }
    if err := args.Decode(1, &id); err != nil { return nil, err }
    if err := args.Decode(2, &isRegex); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    if !isRegex {
        if _, ok := b.objects[name]; !ok { return false, nil }
        b.segmentation[name] = id
        return true, nil
    }
    re, err := regexp.Compile(name)
    if err != nil { return nil, fmt.Errorf("bad object name pattern: %w", err) }
    matched := false
    for obj := range b.objects {
        if re.MatchString(obj) {
            b.segmentation[obj] = id
            matched = true
        }
    }
    return matched, nil
}

func (b *Backend) simGetSegmentationObjectID(_ context.Context, args *rpc.Args) (any, error) {
    var name string
    if err := args.Decode(0, &name); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    if id, ok := b.segmentation[name]; ok { return id, nil }
    return -1, nil
}

func (b *Backend) simGetImages(_ context.Context, args *rpc.Args) (any, error) {
    var reqs []ImageRequest
    if err := args.Decode(0, &reqs); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    out := make([]ImageResponse, 0, len(reqs))
    for _, req := range reqs {
        resp := ImageResponse{
            TimeStamp:     b.now(),
            PixelsAsFloat: req.PixelsAsFloat,
            Compress:      req.Compress,
            ImageType:     req.ImageType,
        }
        cam, ok := b.cameras[req.CameraID]
        if !ok {
            resp.Message = fmt.Sprintf("no camera %d", req.CameraID)
            out = append(out, resp)
            continue
        }
        resp.CameraPosition = cam.Pose.Position
        resp.CameraOrientation = cam.Pose.Orientation
        resp.Width, resp.Height = 256, 144
        resp.ImageData = renderImage(req.CameraID, req.ImageType, req.PixelsAsFloat, resp.Width, resp.Height)
        out = append(out, resp)
    }
    return out, nil
}

func (b *Backend) simGetImage(_ context.Context, args *rpc.Args) (any, error) {
    var cameraID int
    var imageType ImageType
    if err := args.Decode(0, &cameraID); err != nil { return nil, err }
    if err := args.Decode(1, &imageType); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    if _, ok := b.cameras[cameraID]; !ok {
        // unavailable captures come back empty, not as errors
        return Blob(nil), nil
    }
    return renderImage(cameraID, imageType, false, 256, 144), nil
}

// renderImage produces a deterministic synthetic capture: a seeded byte
// gradient, or packed float32 pixels for float requests.
func renderImage(cameraID int, t ImageType, asFloat bool, w, h int) Blob {
    if asFloat {
        buf := make([]byte, w*h*4)
        for i := 0; i < w*h; i++ {
            v := float32(i%w) / float32(w)
            binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
        }
        return buf
    }
    seed := byte(cameraID*31 + int(t)*7)
    buf := make([]byte, 1024)
    for i := range buf {
        buf[i] = seed + byte(i)
    }
    return buf
}

func (b *Backend) simGetCameraInfo(_ context.Context, args *rpc.Args) (any, error) {
    var cameraID int
    if err := args.Decode(0, &cameraID); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    cam, ok := b.cameras[cameraID]
    if !ok { return nil, fmt.Errorf("no camera %d", cameraID) }
    return cam, nil
}

func (b *Backend) simSetCameraOrientation(_ context.Context, args *rpc.Args) (any, error) {
    var cameraID int
    var q Quaternion
    if err := args.Decode(0, &cameraID); err != nil { return nil, err }
    if err := args.Decode(1, &q); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    cam, ok := b.cameras[cameraID]
    if !ok { return nil, fmt.Errorf("no camera %d", cameraID) }
    cam.Pose.Orientation = q
    b.cameras[cameraID] = cam
    return nil, nil
}

func (b *Backend) simPrintLogMessage(_ context.Context, args *rpc.Args) (any, error) {
    var message, param string
    var severity LogSeverity
    if err := args.Decode(0, &message); err != nil { return nil, err }
    if err := args.Decode(1, &param); err != nil { return nil, err }
    if err := args.Decode(2, &severity); err != nil { return nil, err }
    line := message + param
    switch severity {
    case LogDebug:
        zap.L().Debug(line)
    case LogWarn:
        zap.L().Warn(line)
    case LogError:
        zap.L().Error(line)
    default:
        zap.L().Info(line)
    }
    return nil, nil
}

func (b *Backend) simIsPaused(context.Context, *rpc.Args) (any, error) {
    b.mu.Lock(); defer b.mu.Unlock()
    return b.paused, nil
}

func (b *Backend) simPause(_ context.Context, args *rpc.Args) (any, error) {
    var paused bool
    if err := args.Decode(0, &paused); err != nil { return nil, err }
    b.mu.Lock(); defer b.mu.Unlock()
    b.paused = paused
    return nil, nil
}

// simContinueForTime resumes the clock for a wall-clock interval and then
// re-pauses it. Cancellation leaves the simulation paused immediately.
func (b *Backend) simContinueForTime(ctx context.Context, args *rpc.Args) (any, error) {
    var seconds float64
    if err := args.Decode(0, &seconds); err != nil { return nil, err }
    if seconds < 0 { return nil, errors.New("negative duration") }
    b.mu.Lock()
    b.paused = false
    b.mu.Unlock()
    timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
    defer timer.Stop()
    select {
    case <-ctx.Done():
        b.mu.Lock()
        b.paused = true
        b.mu.Unlock()
        return nil, ctx.Err()
    case <-timer.C:
    }
    b.mu.Lock()
    b.paused = true
    b.mu.Unlock()
    return nil, nil
}
