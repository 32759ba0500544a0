package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ListDevices lists devices, optionally filtered by status.
func (c *Client) ListDevices(ctx context.Context, status DeviceStatus) ([]Device, error) {
	var q url.Values
	if status != "" {
		q = url.Values{"status_filter": {string(status)}}
	}
	var out []Device
	err := c.get(ctx, "/devices/", q, &out)
	return out, err
}

func (c *Client) GetDevice(ctx context.Context, id string) (Device, error) {
	did, err := pathID("device id", id)
	if err != nil {
		return Device{}, err
	}
	var out Device
	err = c.get(ctx, "/devices/"+did, nil, &out)
	return out, err
}

// RegisterDevice registers a device. Port defaults to 8000.
func (c *Client) RegisterDevice(ctx context.Context, in DeviceCreate) (Device, error) {
	if in.Port == 0 {
		in.Port = 8000
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if err := check(in); err != nil {
		return Device{}, err
	}
	var out Device
	err := c.post(ctx, "/devices/", in, &out)
	return out, err
}

func (c *Client) UpdateDevice(ctx context.Context, id string, in DeviceUpdate) (Device, error) {
	did, err := pathID("device id", id)
	if err != nil {
		return Device{}, err
	}
	if err := check(in); err != nil {
		return Device{}, err
	}
	var out Device
	err = c.patch(ctx, "/devices/"+did, in, &out)
	return out, err
}

func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	did, err := pathID("device id", id)
	if err != nil {
		return err
	}
	return c.delete(ctx, "/devices/"+did, nil)
}

// DeviceStatsHistory returns the latest resource samples of a device. A zero limit means 100.
func (c *Client) DeviceStatsHistory(ctx context.Context, id string, limit int) ([]DeviceStats, error) {
	did, err := pathID("device id", id)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidInput)
	}
	if limit == 0 {
		limit = 100
	}
	var out []DeviceStats
	err = c.get(ctx, "/devices/"+did+"/stats", url.Values{"limit": {strconv.Itoa(limit)}}, &out)
	return out, err
}

func (c *Client) DeviceStatusSummary(ctx context.Context) (StatusSummary, error) {
	var out StatusSummary
	err := c.get(ctx, "/devices/status/summary", nil, &out)
	return out, err
}

// SendHeartbeat reports device liveness. The heartbeat's DeviceID must match id.
func (c *Client) SendHeartbeat(ctx context.Context, id string, hb DeviceHeartbeat) (Message, error) {
	did, err := pathID("device id", id)
	if err != nil {
		return Message{}, err
	}
	if hb.DeviceID == "" {
		hb.DeviceID = id
	}
	if hb.DeviceID != id {
		return Message{}, fmt.Errorf("%w: device id mismatch", ErrInvalidInput)
	}
	if err := check(hb); err != nil {
		return Message{}, err
	}
	var out Message
	err = c.post(ctx, "/devices/"+did+"/heartbeat", hb, &out)
	return out, err
}
