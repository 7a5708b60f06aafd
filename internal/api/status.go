package api

import (
	"context"
	"fmt"
)

// PlatformStatus is the state reported by /platform/status.
type PlatformStatus int

const (
	PlatformMaintenance PlatformStatus = 0
	PlatformOperative   PlatformStatus = 1
)

func (s PlatformStatus) String() string {
	switch s {
	case PlatformMaintenance:
		return "maintenance"
	case PlatformOperative:
		return "operative"
	default:
		return fmt.Sprintf("platform_status(%d)", int(s))
	}
}

// GetPlatformStatus reports whether the platform is operative or in
// maintenance.
func (c *Client) GetPlatformStatus(ctx context.Context) (PlatformStatus, error) {
	root, err := c.get(ctx, "/platform/status")
	if err != nil {
		return PlatformMaintenance, fmt.Errorf("get platform status: %w", err)
	}

	first := root.Get("0")
	if !root.IsArray() || !first.Exists() {
		return PlatformMaintenance, fmt.Errorf("get platform status: unexpected response %s", root.Raw)
	}
	return PlatformStatus(first.Int()), nil
}
