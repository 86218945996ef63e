package rotate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"

	"github.com/pricewatch/pricewatch/catalog"
)

// Rotator switches the process egress identity. The production rotator
// shells out to external VPN tooling; tests swap in a fake.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// IdentityChecker reports the currently visible egress identity so a
// rotation can be verified to have actually changed it.
type IdentityChecker interface {
	Current(ctx context.Context) (string, error)
}

// SessionSink receives session lifecycle events. The orchestrator wires
// the persistence store in here; dry runs use the nop sink.
type SessionSink interface {
	OpenSession(ctx context.Context, s *catalog.FetchSession) error
	CloseSession(ctx context.Context, s *catalog.FetchSession) error
}

type NopSessionSink struct{}

func (NopSessionSink) OpenSession(ctx context.Context, s *catalog.FetchSession) error  { return nil }
func (NopSessionSink) CloseSession(ctx context.Context, s *catalog.FetchSession) error { return nil }

// ExecRotator invokes an external command (e.g. "nordvpn c pl") and treats
// a zero exit as success, optionally requiring a confirmation substring in
// the combined output.
type ExecRotator struct {
	Command string
	Args    []string
	Expect  string
}

func (r *ExecRotator) Rotate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rotate command failed:%w", err)
	}

	if r.Expect != "" && !strings.Contains(string(out), r.Expect) {
		return fmt.Errorf("rotate command output missing %q", r.Expect)
	}

	return nil
}

// HTTPIdentity resolves the egress identity through a what-is-my-ip style
// endpoint. The check deliberately goes through a plain client: it only
// needs the address, not the stealth fingerprint.
type HTTPIdentity struct {
	Endpoint string
	Client   *http.Client
}

func (h *HTTPIdentity) Current(ctx context.Context) (string, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("identity check:%w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity check:%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity check status:%d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("identity check:%w", err)
	}

	return strings.TrimSpace(string(body)), nil
}
