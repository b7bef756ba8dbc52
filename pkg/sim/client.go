package sim

import (
    "context"
    "time"

    "simlink/pkg/rpc"
)

// Client is the vehicle-facing view of one simulator session. It adds typed
// wrappers for every simulator operation on top of the raw call session.
type Client struct {
    rc *rpc.Client
}

// Connect starts a session against a simulator. Establishment is
// asynchronous; call ConfirmConnection before issuing commands.
func Connect(opts rpc.Options) (*Client, error) {
    rc, err := rpc.Dial(opts)
    if err != nil { return nil, err }
    return &Client{rc: rc}, nil
}

// Wrap builds a simulator client over an existing session.
func Wrap(rc *rpc.Client) *Client { return &Client{rc: rc} }

// Session exposes the underlying call session for state inspection and
// session-level operations.
func (c *Client) Session() *rpc.Client { return c.rc }

// ConfirmConnection blocks until the session is live, then negotiates
// versions. Bounded by ctx.
func (c *Client) ConfirmConnection(ctx context.Context) (rpc.VersionInfo, error) {
    return c.rc.ConfirmConnection(ctx)
}

// Ping checks simulator liveness.
func (c *Client) Ping() bool { return c.rc.Ping() }

// Close tears down the session.
func (c *Client) Close() error { return c.rc.Close() }

// Reset restores the simulation to its initial state.
func (c *Client) Reset() error { return c.rc.Reset() }

// EnableApiControl grants or revokes programmatic control of the vehicle.
// Most vehicle commands are refused while control is disabled.
func (c *Client) EnableApiControl(enable bool) error {
    return c.rc.Call("enableApiControl", nil, enable)
}

// IsApiControlEnabled reports whether programmatic control is active.
func (c *Client) IsApiControlEnabled() (bool, error) {
    var ok bool
    err := c.rc.Call("isApiControlEnabled", &ok)
    return ok, err
}

// ArmDisarm arms or disarms the vehicle. Requires api control.
func (c *Client) ArmDisarm(arm bool) (bool, error) {
    var ok bool
    err := c.rc.Call("armDisarm", &ok, arm)
    return ok, err
}

// GetHomeGeoPoint returns the vehicle's home coordinate.
func (c *Client) GetHomeGeoPoint() (GeoPoint, error) {
    var gp GeoPoint
    err := c.rc.Call("getHomeGeoPoint", &gp)
    return gp, err
}

// GetCollisionInfo returns the most recent collision record.
func (c *Client) GetCollisionInfo() (CollisionInfo, error) {
    var ci CollisionInfo
    err := c.rc.Call("getCollisionInfo", &ci)
    return ci, err
}

// SimGetVehiclePose returns the vehicle's current pose.
func (c *Client) SimGetVehiclePose() (Pose, error) {
    var p Pose
    err := c.rc.Call("simGetVehiclePose", &p)
    return p, err
}

// SimSetVehiclePose teleports the vehicle. With ignoreCollision the move
// succeeds even through geometry.
func (c *Client) SimSetVehiclePose(p Pose, ignoreCollision bool) error {
    return c.rc.Call("simSetVehiclePose", nil, p, ignoreCollision)
}

// SimGetObjectPose returns the pose of a named scene object. Unknown objects
// yield a pose of NaNs rather than an error.
func (c *Client) SimGetObjectPose(name string) (Pose, error) {
    var p Pose
    err := c.rc.Call("simGetObjectPose", &p, name)
    return p, err
}

// SimSetSegmentationObjectID assigns a segmentation id to a scene object, or
// to every object matching name as a regular expression when isRegex is set.
// Returns whether any object matched.
func (c *Client) SimSetSegmentationObjectID(name string, id int, isRegex bool) (bool, error) {
    var ok bool
    err := c.rc.Call("simSetSegmentationObjectID", &ok, name, id, isRegex)
    return ok, err
}

// SimGetSegmentationObjectID returns the segmentation id of a scene object,
// -1 when unknown.
func (c *Client) SimGetSegmentationObjectID(name string) (int, error) {
    var id int
    err := c.rc.Call("simGetSegmentationObjectID", &id, name)
    return id, err
}

// SimGetImages captures a batch of camera images in one round trip.
func (c *Client) SimGetImages(reqs []ImageRequest) ([]ImageResponse, error) {
    var out []ImageResponse
    err := c.rc.Call("simGetImages", &out, reqs)
    return out, err
}

// SimGetImage captures one compressed image. An unavailable camera or render
// pass yields an empty blob, not an error.
func (c *Client) SimGetImage(cameraID int, imageType ImageType) (Blob, error) {
    var b Blob
    err := c.rc.Call("simGetImage", &b, cameraID, imageType)
    return b, err
}

// SimGetCameraInfo returns pose and field of view for a camera.
func (c *Client) SimGetCameraInfo(cameraID int) (CameraInfo, error) {
    var ci CameraInfo
    err := c.rc.Call("simGetCameraInfo", &ci, cameraID)
    return ci, err
}

// SimSetCameraOrientation points a camera, orientation relative to the
// vehicle body frame.
func (c *Client) SimSetCameraOrientation(cameraID int, q Quaternion) error {
    return c.rc.Call("simSetCameraOrientation", nil, cameraID, q)
}

// SimPrintLogMessage renders a message in the simulator's log display.
// Message and param are concatenated by the simulator; param typically
// carries a changing value so the line updates in place.
func (c *Client) SimPrintLogMessage(message, param string, severity LogSeverity) error {
    return c.rc.Call("simPrintLogMessage", nil, message, param, severity)
}

// SimIsPaused reports whether simulation time is frozen.
func (c *Client) SimIsPaused() (bool, error) {
    var paused bool
    err := c.rc.Call("simIsPaused", &paused)
    return paused, err
}

// SimPause freezes or resumes simulation time.
func (c *Client) SimPause(paused bool) error {
    return c.rc.Call("simPause", nil, paused)
}

// SimContinueForTime resumes a paused simulation for a wall-clock duration,
// then re-pauses it. Long-running: the returned handle resolves when the
// interval elapses, and a newer long-running call supersedes it.
func (c *Client) SimContinueForTime(seconds float64) (*rpc.Task, error) {
    return c.rc.CallTask("simContinueForTime", seconds)
}

// CancelLastTask cancels the newest long-running operation, if any is still
// in progress.
func (c *Client) CancelLastTask() error { return c.rc.CancelLastTask() }

// WaitOnLastTask blocks up to timeout for the newest long-running operation.
// True when it completed normally, or when there is nothing to wait on.
func (c *Client) WaitOnLastTask(timeout time.Duration) bool {
    t := c.rc.LastTask()
    if t == nil { return true }
    return t.Wait(timeout)
}
