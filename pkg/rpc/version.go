package rpc

import "fmt"

// Version constants baked into each side. Kept in sync with the wire
// contract; a side refusing older peers raises its min-required number.
const (
    ClientVersion            = 1
    MinRequiredServerVersion = 1
    ServerVersion            = 1
    MinRequiredClientVersion = 1
)

// VersionInfo is captured once per successful connection and used only for
// the one-time compatibility check and logging.
type VersionInfo struct {
    ClientVersion     int
    ClientMinRequired int // reported by the server
    ServerVersion     int // reported by the server
    ServerMinRequired int
}

// Banner renders the human-readable version line logged after negotiation.
func (v VersionInfo) Banner() string {
    return fmt.Sprintf("Client Ver:%d (Min Req:%d), Server Ver:%d (Min Req:%d)",
        v.ClientVersion, v.ClientMinRequired, v.ServerVersion, v.ServerMinRequired)
}

// VersionErrorKind distinguishes which side is behind.
type VersionErrorKind int

const (
    ServerTooOld VersionErrorKind = iota
    ClientTooOld
)

// VersionError reports an incompatible client/server pairing. Advisory by
// default: ConfirmConnection logs it and keeps the session unless the
// session was built with Strict.
type VersionError struct {
    Kind VersionErrorKind
    Info VersionInfo
}

func (e *VersionError) Error() string {
    if e.Kind == ServerTooOld {
        return fmt.Sprintf("version mismatch: server is of older version and not supported by this client (%s)", e.Info.Banner())
    }
    return fmt.Sprintf("version mismatch: client is of older version and not supported by this server (%s)", e.Info.Banner())
}

// advice is the upgrade hint logged next to the banner.
func (e *VersionError) advice() string {
    if e.Kind == ServerTooOld {
        return "simulation server is of older version and not supported by this client, please upgrade the server"
    }
    return "client is of older version and not supported by this server, please upgrade the client"
}

// NegotiateVersion exchanges version numbers with the server and applies the
// compatibility rule. The returned VersionInfo is valid even when the error
// is a *VersionError.
func (c *Client) NegotiateVersion() (VersionInfo, error) {
    var serverVer, clientMin int
    if err := c.Call("getServerVersion", &serverVer); err != nil {
        return VersionInfo{}, err
    }
    if err := c.Call("getMinRequiredClientVersion", &clientMin); err != nil {
        return VersionInfo{}, err
    }
    info := VersionInfo{
        ClientVersion:     c.opts.Version,
        ClientMinRequired: clientMin,
        ServerVersion:     serverVer,
        ServerMinRequired: c.opts.MinServerVersion,
    }
    if info.ServerVersion < info.ServerMinRequired {
        return info, &VersionError{Kind: ServerTooOld, Info: info}
    }
    if info.ClientVersion < info.ClientMinRequired {
        return info, &VersionError{Kind: ClientTooOld, Info: info}
    }
    return info, nil
}
