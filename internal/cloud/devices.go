package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Device is one physical alarm communicator unit as reported by the
// vendor's user profile. Immutable once fetched; the set is refreshed
// only by calling FetchDevices again.
type Device struct {
	// ID is the vendor's device identifier, used in API paths and topics.
	ID string

	// IMEI is the hardware identifier; pub/sub client ids derive from it.
	IMEI string

	// Name is the user-assigned device label.
	Name string

	// AreaLabels are the profile's area names, aligned by index with
	// AreaStates. May be empty if the profile carries no labels.
	AreaLabels []string

	// AreaStates are the area states current at fetch time, as raw vendor
	// strings. Useful for seeding local state before the first frame.
	AreaStates []string
}

// userResponse is the wire shape of GET /users/{userIndex}.
type userResponse struct {
	Devices []deviceJSON `json:"devices"`
}

type deviceJSON struct {
	ID      string `json:"id"`
	IMEI    string `json:"IMEI"`
	Name    string `json:"deviceName"`
	Profile struct {
		AreasLabels []string `json:"areasLabels"`
	} `json:"deviceProfile"`
	Status struct {
		Areas []string `json:"areas"`
	} `json:"deviceStatus"`
}

// actionRequest is the wire shape of POST /devices/{id}/actions.
type actionRequest struct {
	ActionCmd string `json:"actionCmd"`
	ActionNum int    `json:"actionNum"`
}

// FetchDevices enumerates the authenticated user's devices.
//
// Each device carries its profile area labels and the area states current
// at fetch time, aligned by index.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - accessToken: A valid access token
//   - userIndex: The numeric user index from FederatedLink
//
// Returns:
//   - []Device: The user's devices (may be empty)
//   - error: ErrAuthFailed if the token is rejected, ErrRequestFailed otherwise
func (c *Client) FetchDevices(ctx context.Context, accessToken string, userIndex int) ([]Device, error) {
	endpoint := fmt.Sprintf("%s/users/%d", c.cfg.APIBaseURL, userIndex)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp userResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("fetching devices: %w", err)
	}

	devices := make([]Device, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		devices = append(devices, Device{
			ID:         d.ID,
			IMEI:       d.IMEI,
			Name:       d.Name,
			AreaLabels: d.Profile.AreasLabels,
			AreaStates: d.Status.Areas,
		})
	}
	return devices, nil
}

// SendAction issues a device action over plain HTTP.
//
// This is the alternate command path: equivalent to publishing on the
// device's control topic but not requiring a live pub/sub connection.
// actionCmd is the wire command string (e.g. "area-disarm"); actionNum is
// the 1-based area number.
func (c *Client) SendAction(ctx context.Context, accessToken, deviceID, actionCmd string, actionNum int) error {
	endpoint := fmt.Sprintf("%s/devices/%s/actions", c.cfg.APIBaseURL, deviceID)

	body, err := json.Marshal(actionRequest{ActionCmd: actionCmd, ActionNum: actionNum})
	if err != nil {
		return fmt.Errorf("%w: encoding action: %w", ErrRequestFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("sending action: %w", err)
	}
	return nil
}
