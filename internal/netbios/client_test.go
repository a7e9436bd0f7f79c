package netbios

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNameServer answers name queries and node status requests on loopback.
type fakeNameServer struct {
	conn    *net.UDPConn
	queries map[string][]Address // "NAME<xx>" -> answers
	status  []NodeName
	silent  bool
}

func startFakeNameServer(t *testing.T, srv *fakeNameServer) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	srv.conn = conn
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, maxPacket)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			srv.handle(buf[:n], from)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *fakeNameServer) handle(pkt []byte, from *net.UDPAddr) {
	if s.silent || len(pkt) < headerLen+34+4 {
		return
	}
	id := binary.BigEndian.Uint16(pkt[0:])
	name, suffix, err := decodeName(pkt[headerLen+1 : headerLen+33])
	if err != nil {
		return
	}
	qtype := binary.BigEndian.Uint16(pkt[headerLen+34:])

	var reply []byte
	switch qtype {
	case typeNBSTAT:
		reply = buildStatusResponse(id, s.status)
	case typeNB:
		addrs, ok := s.queries[NodeName{Name: name, Suffix: suffix}.String()]
		if !ok {
			return
		}
		// one packet per responder, like real broadcast answers
		for _, a := range addrs {
			s.conn.WriteToUDP(buildNBResponse(id, name, suffix, []Address{a}), from)
		}
		return
	}
	s.conn.WriteToUDP(reply, from)
}

func TestClientQuery(t *testing.T) {
	srv := &fakeNameServer{queries: map[string][]Address{
		"WG<00>": {
			{IP: net.IPv4(10, 0, 0, 1), Group: true},
			{IP: net.IPv4(10, 0, 0, 2), Group: true},
			{IP: net.IPv4(10, 0, 0, 1), Group: true},
		},
	}}
	port := startFakeNameServer(t, srv)

	c := &Client{Broadcast: "127.0.0.1", Port: port, Timeout: 300 * time.Millisecond}
	ips, err := c.LookupGroup(context.Background(), "wg")
	require.NoError(t, err)
	require.Len(t, ips, 2, "duplicate responders are collapsed")
	assert.True(t, ips[0].Equal(net.IPv4(10, 0, 0, 1)))
	assert.True(t, ips[1].Equal(net.IPv4(10, 0, 0, 2)))
}

func TestClientQueryNoAnswer(t *testing.T) {
	srv := &fakeNameServer{queries: map[string][]Address{}}
	port := startFakeNameServer(t, srv)

	c := &Client{Broadcast: "127.0.0.1", Port: port, Timeout: 100 * time.Millisecond}
	_, err := c.Query(context.Background(), "NOBODY", SuffixServer)
	assert.True(t, errors.Is(err, ErrNoAnswer))
}

func TestClientBroadcastSourceIsReadPerQuery(t *testing.T) {
	srv := &fakeNameServer{queries: map[string][]Address{
		"WG<1e>": {{IP: net.IPv4(10, 0, 0, 3), Group: true}},
	}}
	port := startFakeNameServer(t, srv)

	dst := "127.0.0.2"
	c := &Client{
		Broadcast:       "127.0.0.2",
		BroadcastSource: func() string { return dst },
		Port:            port,
		Timeout:         150 * time.Millisecond,
	}

	_, err := c.Query(context.Background(), "WG", SuffixBrowserElect)
	assert.True(t, errors.Is(err, ErrNoAnswer), "nothing listens on %s", dst)

	dst = "127.0.0.1"
	addrs, err := c.Query(context.Background(), "WG", SuffixBrowserElect)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.True(t, addrs[0].IP.Equal(net.IPv4(10, 0, 0, 3)))
}

func TestClientLookupHost(t *testing.T) {
	srv := &fakeNameServer{queries: map[string][]Address{
		"ALPHA<20>": {{IP: net.IPv4(10, 0, 0, 7)}},
	}}
	port := startFakeNameServer(t, srv)

	c := &Client{Broadcast: "127.0.0.1", Port: port, Timeout: 200 * time.Millisecond}
	ip, err := c.LookupHost(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, ip.Equal(net.IPv4(10, 0, 0, 7)))
}

func TestClientNodeStatus(t *testing.T) {
	srv := &fakeNameServer{status: []NodeName{
		{Name: "ALPHA", Suffix: 0x00},
		{Name: "WG", Suffix: 0x00, Group: true},
		{Name: "ALPHA", Suffix: 0x20},
	}}
	port := startFakeNameServer(t, srv)

	c := &Client{Port: port, Timeout: time.Second}
	names, err := c.NodeStatus(context.Background(), net.IPv4(127, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, srv.status, names)
}

func TestClientNodeStatusTimeout(t *testing.T) {
	srv := &fakeNameServer{silent: true}
	port := startFakeNameServer(t, srv)

	c := &Client{Port: port, Timeout: 100 * time.Millisecond}
	_, err := c.NodeStatus(context.Background(), net.IPv4(127, 0, 0, 1))
	assert.True(t, errors.Is(err, ErrNoAnswer))
}

func TestClientHonoursContext(t *testing.T) {
	srv := &fakeNameServer{silent: true}
	port := startFakeNameServer(t, srv)

	c := &Client{Port: port, Timeout: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.NodeStatus(ctx, net.IPv4(127, 0, 0, 1))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 5*time.Second)
}
