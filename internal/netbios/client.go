package netbios

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"smbhood/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("netbios")
)

const (
	// DefaultPort is the name service UDP port.
	DefaultPort    = 137
	defaultTimeout = 2 * time.Second
	maxPacket      = 1500
)

// ErrNoAnswer is returned when nothing answered before the deadline.
var ErrNoAnswer = errors.New("netbios: no answer")

// Client sends name service requests over UDP.
type Client struct {
	// Broadcast is the destination of broadcast name queries.
	Broadcast string
	// BroadcastSource, when set, is asked for the destination on every
	// query and takes precedence over Broadcast.
	BroadcastSource func() string
	// Port overrides DefaultPort.
	Port int
	// Timeout bounds each request unless ctx expires first.
	Timeout time.Duration
}

// NewClient returns a client broadcasting to addr.
func NewClient(broadcast string, timeout time.Duration) *Client {
	return &Client{Broadcast: broadcast, Timeout: timeout}
}

func (c *Client) port() int {
	if c.Port != 0 {
		return c.Port
	}
	return DefaultPort
}

func (c *Client) broadcast() string {
	if c.BroadcastSource != nil {
		if addr := c.BroadcastSource(); addr != "" {
			return addr
		}
	}
	return c.Broadcast
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// listen opens an IPv4 UDP socket allowed to send broadcasts.
func listen(ctx context.Context) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, rc syscall.RawConn) error {
			var sockErr error
			err := rc.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open name service socket: %w", err)
	}
	return pc.(*net.UDPConn), nil
}

// exchange sends pkt to dst and hands every matching response to collect
// until collect returns true or the deadline passes.
func (c *Client) exchange(ctx context.Context, dst string, pkt []byte, id uint16, collect func(*response) bool) error {
	conn, err := listen(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(dst, strconv.Itoa(c.port())))
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dst, err)
	}
	if _, err := conn.WriteToUDP(pkt, raddr); err != nil {
		return fmt.Errorf("failed to send name service request to %s: %w", raddr, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, maxPacket)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return nil
			}
			return err
		}
		resp, err := parseResponse(buf[:n])
		if err != nil {
			logger.Trace("Ignoring malformed packet from %v: %v", from, err)
			continue
		}
		if resp.id != id {
			continue
		}
		if collect(resp) {
			return nil
		}
	}
}

// Query broadcasts a name query for name<suffix> and collects the answers
// of every responder until the timeout.
func (c *Client) Query(ctx context.Context, name string, suffix byte) ([]Address, error) {
	id := uint16(rand.UintN(1 << 16))
	pkt := buildRequest(id, flagRecursion|flagBroadcast, name, suffix, typeNB)

	var addrs []Address
	seen := make(map[string]bool)
	err := c.exchange(ctx, c.broadcast(), pkt, id, func(r *response) bool {
		if r.rcode() != 0 || r.rtype != typeNB {
			return false
		}
		for _, a := range parseAddresses(r.rdata) {
			if key := a.IP.String(); !seen[key] {
				seen[key] = true
				addrs = append(addrs, a)
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w for %s<%02x>", ErrNoAnswer, name, suffix)
	}
	logger.Debug("Query %s<%02x> answered by %d hosts", name, suffix, len(addrs))
	return addrs, nil
}

// LookupGroup returns the hosts that answered a broadcast query for the
// workgroup name.
func (c *Client) LookupGroup(ctx context.Context, workgroup string) ([]net.IP, error) {
	addrs, err := c.Query(ctx, workgroup, SuffixWorkstation)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// LookupHost resolves a server name through its file server name.
func (c *Client) LookupHost(ctx context.Context, host string) (net.IP, error) {
	addrs, err := c.Query(ctx, host, SuffixServer)
	if err != nil {
		return nil, err
	}
	return addrs[0].IP, nil
}

// NodeStatus asks ip for the names it has registered.
func (c *Client) NodeStatus(ctx context.Context, ip net.IP) ([]NodeName, error) {
	id := uint16(rand.UintN(1 << 16))
	pkt := buildRequest(id, 0, "*", 0, typeNBSTAT)

	var (
		names    []NodeName
		parseErr error
		answered bool
	)
	err := c.exchange(ctx, ip.String(), pkt, id, func(r *response) bool {
		if r.rtype != typeNBSTAT {
			return false
		}
		answered = true
		names, parseErr = parseNodeNames(r.rdata)
		return true
	})
	if err != nil {
		return nil, err
	}
	if !answered {
		return nil, fmt.Errorf("%w: node status of %s", ErrNoAnswer, ip)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("bad node status from %s: %w", ip, parseErr)
	}
	logger.Trace("Node status of %s: %v", ip, names)
	return names, nil
}
