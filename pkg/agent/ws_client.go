package agent

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/auth"
)

// MsgLimitsChanged is broadcast by the manager when an override changes.
const MsgLimitsChanged = "limits_changed"

// BusMessage is the websocket envelope used on the bus.
type BusMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Nudger keeps a websocket open to the manager and signals C whenever a
// limits_changed message arrives. Signals coalesce.
type Nudger struct {
	Dialer   *websocket.Dialer
	endpoint string
	signer   *auth.Signer
	retry    time.Duration
	C        chan struct{}
}

// NewNudger returns nil when no manager is configured.
func NewNudger(controller string, signer *auth.Signer) *Nudger {
	if controller == "" {
		return nil
	}
	u, err := url.Parse(controller)
	if err != nil {
		klog.Warningf("nudger: bad controller url %q: %v", controller, err)
		return nil
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	u.Scheme = scheme
	u.Path = "/bus/ws"
	return &Nudger{Dialer: websocket.DefaultDialer, endpoint: u.String(), signer: signer, retry: 5 * time.Second, C: make(chan struct{}, 1)}
}

// Nudges returns the signal channel, or nil for a nil Nudger.
func (n *Nudger) Nudges() <-chan struct{} {
	if n == nil {
		return nil
	}
	return n.C
}

func (n *Nudger) nudge() {
	select {
	case n.C <- struct{}{}:
	default:
	}
}

// Run dials and reads until ctx is done, reconnecting after failures.
func (n *Nudger) Run(ctx context.Context) {
	if n == nil {
		return
	}
	for {
		header := http.Header{}
		if token, err := n.signer.Generate("shaperd", time.Hour); err == nil && token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		conn, resp, err := n.Dialer.DialContext(ctx, n.endpoint, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			klog.V(2).Infof("nudger: dial failed: %v (url=%s status=%d)", err, n.endpoint, status)
		} else {
			klog.Infof("nudger: connected to %s", n.endpoint)
			n.readLoop(ctx, conn)
			klog.Infof("nudger: disconnected, retrying in %s", n.retry)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.retry):
		}
	}
}

func (n *Nudger) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		var msg BusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		klog.V(2).Infof("nudger: recv type=%s", msg.Type)
		if msg.Type == MsgLimitsChanged {
			n.nudge()
		}
	}
}
