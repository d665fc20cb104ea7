package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"testing"
	"time"

	"rangerd/pkg/dhcpwire"
	"rangerd/services/dhcpd/internal/store"
)

func ip4(a, b, c, d byte) net.IP {
	return net.IPv4(a, b, c, d).To4()
}

func mustMac(t *testing.T, raw string) dhcpwire.MacAddress {
	t.Helper()
	mac, err := dhcpwire.ParseMacAddress(raw)
	if err != nil {
		t.Fatalf("parse mac %q: %v", raw, err)
	}
	return mac
}

// testStore seeds a 192.168.1.0/24 with a 100-150 pool and one static
// binding at .50 for AA:BB:CC:DD:EE:FF.
func testStore(t *testing.T) (*store.Memory, store.Subnet) {
	t.Helper()
	ms := store.NewMemory()
	sn := ms.AddSubnet(store.Subnet{
		Network:    ip4(192, 168, 1, 0),
		PrefixLen:  24,
		Gateway:    ip4(192, 168, 1, 1),
		DNSServers: []net.IP{ip4(1, 1, 1, 1), ip4(8, 8, 8, 8)},
		DomainName: "lan.example",
		Enabled:    true,
	})
	ms.AddRange(store.DynamicRange{
		SubnetID:     sn.ID,
		StartAddress: ip4(192, 168, 1, 100),
		EndAddress:   ip4(192, 168, 1, 150),
		Enabled:      true,
	})
	ms.AddStaticIP(store.StaticIP{
		SubnetID: sn.ID,
		MAC:      mustMac(t, "AA:BB:CC:DD:EE:FF"),
		Address:  ip4(192, 168, 1, 50),
		Hostname: "printer",
		Enabled:  true,
	})
	return ms, sn
}

func defaultTestConfig() Config {
	return Config{
		DefaultLeaseTime: 24 * time.Hour,
		MaxLeaseTime:     7 * 24 * time.Hour,
		NakOnUnavailable: true,
		ServeInform:      true,
	}
}

func newTestEngine(st store.LeaseStore, cfg Config) *Engine {
	return New(st, cfg, log.New(io.Discard, "", 0), nil)
}

func clientPacket(t *testing.T, raw string, msgType dhcpwire.MessageType, extra ...dhcpwire.Option) *dhcpwire.Packet {
	t.Helper()
	opts := append([]dhcpwire.Option{dhcpwire.OptMessageType(msgType)}, extra...)
	return &dhcpwire.Packet{
		Op:      dhcpwire.OpRequest,
		HType:   1,
		HLen:    6,
		XID:     0x1a2b3c4d,
		Flags:   dhcpwire.FlagBroadcast,
		CHAddr:  mustMac(t, raw),
		Options: opts,
	}
}

func replyType(t *testing.T, p *dhcpwire.Packet) dhcpwire.MessageType {
	t.Helper()
	if p == nil {
		t.Fatalf("expected a reply, got silence")
	}
	mt, ok := p.MessageType()
	if !ok {
		t.Fatalf("reply has no message type: %+v", p)
	}
	return mt
}

func optionSeconds(t *testing.T, p *dhcpwire.Packet, code byte) (uint32, bool) {
	t.Helper()
	opt, ok := p.GetOption(code)
	if !ok {
		return 0, false
	}
	secs, ok := opt.Seconds()
	if !ok {
		t.Fatalf("option %d has malformed payload % x", code, opt.Data)
	}
	return secs, true
}

func TestDiscoverStaticAssignment(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())

	req := clientPacket(t, "AA:BB:CC:DD:EE:FF", dhcpwire.MessageTypeDiscover)
	reply := e.Handle(context.Background(), req, nil)

	if got := replyType(t, reply); got != dhcpwire.MessageTypeOffer {
		t.Fatalf("reply type = %s, want OFFER", got)
	}
	if !reply.YIAddr.Equal(ip4(192, 168, 1, 50)) {
		t.Fatalf("yiaddr = %s, want 192.168.1.50", reply.YIAddr)
	}
	if reply.Op != dhcpwire.OpReply {
		t.Fatalf("op = %d, want %d", reply.Op, dhcpwire.OpReply)
	}
	if reply.XID != req.XID {
		t.Fatalf("xid = %#x, want %#x", reply.XID, req.XID)
	}
	if reply.CHAddr != req.CHAddr {
		t.Fatalf("chaddr = %s, want %s", reply.CHAddr, req.CHAddr)
	}
	if reply.Flags != req.Flags {
		t.Fatalf("flags = %#x, want %#x", reply.Flags, req.Flags)
	}
	if !reply.CIAddr.Equal(net.IPv4zero) {
		t.Fatalf("ciaddr = %s, want zero", reply.CIAddr)
	}
	if !reply.SIAddr.Equal(sn.Gateway) {
		t.Fatalf("siaddr = %s, want gateway %s", reply.SIAddr, sn.Gateway)
	}

	server, ok := reply.GetOption(dhcpwire.OptionServerID)
	if !ok {
		t.Fatalf("offer missing server identifier")
	}
	if ip, _ := server.IP(); !ip.Equal(sn.Gateway) {
		t.Fatalf("server id = %s, want %s", ip, sn.Gateway)
	}
	mask, ok := reply.GetOption(dhcpwire.OptionSubnetMask)
	if !ok {
		t.Fatalf("offer missing subnet mask")
	}
	if ip, _ := mask.IP(); !ip.Equal(ip4(255, 255, 255, 0)) {
		t.Fatalf("subnet mask = %s, want 255.255.255.0", ip)
	}

	// A static binding never creates a lease row.
	lease, err := ms.GetActiveLease(context.Background(), req.CHAddr)
	if err != nil {
		t.Fatalf("lease lookup: %v", err)
	}
	if lease != nil {
		t.Fatalf("static offer created lease %+v", lease)
	}
}

func TestDiscoverPrefersExistingLease(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())
	mac := mustMac(t, "11:22:33:44:55:66")

	now := time.Now()
	if _, err := ms.CreateOrExtendLease(context.Background(), mac, sn.ID, ip4(192, 168, 1, 100), now, now.Add(time.Hour), ""); err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	for i := 0; i < 3; i++ {
		reply := e.Handle(context.Background(), clientPacket(t, "11:22:33:44:55:66", dhcpwire.MessageTypeDiscover), nil)
		if got := replyType(t, reply); got != dhcpwire.MessageTypeOffer {
			t.Fatalf("reply type = %s, want OFFER", got)
		}
		if !reply.YIAddr.Equal(ip4(192, 168, 1, 100)) {
			t.Fatalf("discover %d offered %s, want stable 192.168.1.100", i, reply.YIAddr)
		}
	}
}

func TestDiscoverDynamicAllocation(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())
	mac := mustMac(t, "99:88:77:66:55:44")

	reply := e.Handle(context.Background(), clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeDiscover), nil)
	if got := replyType(t, reply); got != dhcpwire.MessageTypeOffer {
		t.Fatalf("reply type = %s, want OFFER", got)
	}

	offered := reply.YIAddr
	if offered[0] != 192 || offered[1] != 168 || offered[2] != 1 || offered[3] < 100 || offered[3] > 150 {
		t.Fatalf("offered %s, want an address in 192.168.1.100-150", offered)
	}
	if offered.Equal(sn.Gateway) || offered.Equal(ip4(192, 168, 1, 50)) {
		t.Fatalf("offered excluded address %s", offered)
	}

	// The offer reserves the address so a concurrent discover cannot get it.
	lease, err := ms.GetActiveLease(context.Background(), mac)
	if err != nil {
		t.Fatalf("lease lookup: %v", err)
	}
	if lease == nil || !lease.Address.Equal(offered) {
		t.Fatalf("reservation lease = %+v, want one at %s", lease, offered)
	}
}

func TestDiscoverSkipsTakenAddresses(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())

	now := time.Now()
	if _, err := ms.CreateOrExtendLease(context.Background(), mustMac(t, "11:22:33:44:55:66"), sn.ID, ip4(192, 168, 1, 100), now, now.Add(time.Hour), ""); err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	reply := e.Handle(context.Background(), clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeDiscover), nil)
	if got := replyType(t, reply); got != dhcpwire.MessageTypeOffer {
		t.Fatalf("reply type = %s, want OFFER", got)
	}
	if !reply.YIAddr.Equal(ip4(192, 168, 1, 101)) {
		t.Fatalf("offered %s, want first free 192.168.1.101", reply.YIAddr)
	}
}

func TestDiscoverPoolExhausted(t *testing.T) {
	ms := store.NewMemory()
	sn := ms.AddSubnet(store.Subnet{
		Network: ip4(10, 0, 0, 0), PrefixLen: 24, Gateway: ip4(10, 0, 0, 1), Enabled: true,
	})
	ms.AddRange(store.DynamicRange{
		SubnetID: sn.ID, StartAddress: ip4(10, 0, 0, 10), EndAddress: ip4(10, 0, 0, 11), Enabled: true,
	})
	e := newTestEngine(ms, defaultTestConfig())

	now := time.Now()
	for i, addr := range []net.IP{ip4(10, 0, 0, 10), ip4(10, 0, 0, 11)} {
		mac := mustMac(t, fmt.Sprintf("02:00:00:00:00:%02X", i))
		if _, err := ms.CreateOrExtendLease(context.Background(), mac, sn.ID, addr, now, now.Add(time.Hour), ""); err != nil {
			t.Fatalf("seed lease %d: %v", i, err)
		}
	}

	reply := e.Handle(context.Background(), clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeDiscover), nil)
	if reply != nil {
		t.Fatalf("exhausted pool replied with %+v, want silence", reply)
	}
}

func TestDiscoverNoSubnets(t *testing.T) {
	e := newTestEngine(store.NewMemory(), defaultTestConfig())
	reply := e.Handle(context.Background(), clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeDiscover), nil)
	if reply != nil {
		t.Fatalf("empty store replied with %+v, want silence", reply)
	}
}

func TestRequestWithoutRequestedIP(t *testing.T) {
	ms, _ := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())

	reply := e.Handle(context.Background(), clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeRequest), nil)
	if reply != nil {
		t.Fatalf("request without option 50 replied with %+v, want silence", reply)
	}
}

func TestRequestStaticMatch(t *testing.T) {
	ms, _ := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())

	req := clientPacket(t, "AA:BB:CC:DD:EE:FF", dhcpwire.MessageTypeRequest,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 50)))
	reply := e.Handle(context.Background(), req, nil)

	if got := replyType(t, reply); got != dhcpwire.MessageTypeAck {
		t.Fatalf("reply type = %s, want ACK", got)
	}
	if !reply.YIAddr.Equal(ip4(192, 168, 1, 50)) {
		t.Fatalf("yiaddr = %s, want 192.168.1.50", reply.YIAddr)
	}

	lease, err := ms.GetActiveLease(context.Background(), req.CHAddr)
	if err != nil {
		t.Fatalf("lease lookup: %v", err)
	}
	if lease != nil {
		t.Fatalf("static ack created lease %+v", lease)
	}
}

func TestRequestStaticConflict(t *testing.T) {
	ms, _ := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())

	req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeRequest,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 50)))
	reply := e.Handle(context.Background(), req, nil)

	if got := replyType(t, reply); got != dhcpwire.MessageTypeNak {
		t.Fatalf("reply type = %s, want NAK", got)
	}
	if !reply.YIAddr.Equal(net.IPv4zero) {
		t.Fatalf("nak yiaddr = %s, want zero", reply.YIAddr)
	}
	if _, ok := reply.GetOption(dhcpwire.OptionLeaseTime); ok {
		t.Fatalf("nak carries a lease time option")
	}
}

func TestRequestDynamicAck(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())
	e.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeRequest,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 120)),
		dhcpwire.OptHostname("builder-7"))
	reply := e.Handle(context.Background(), req, nil)

	if got := replyType(t, reply); got != dhcpwire.MessageTypeAck {
		t.Fatalf("reply type = %s, want ACK", got)
	}
	if !reply.YIAddr.Equal(ip4(192, 168, 1, 120)) {
		t.Fatalf("yiaddr = %s, want 192.168.1.120", reply.YIAddr)
	}

	if secs, ok := optionSeconds(t, reply, dhcpwire.OptionLeaseTime); !ok || secs != 86400 {
		t.Fatalf("lease time = %d (present %v), want 86400", secs, ok)
	}
	if secs, ok := optionSeconds(t, reply, dhcpwire.OptionRenewalTime); !ok || secs != 43200 {
		t.Fatalf("renewal time = %d (present %v), want 43200", secs, ok)
	}
	if secs, ok := optionSeconds(t, reply, dhcpwire.OptionRebindingTime); !ok || secs != 75600 {
		t.Fatalf("rebinding time = %d (present %v), want 75600", secs, ok)
	}

	lease, err := ms.GetActiveLease(context.Background(), req.CHAddr)
	if err != nil {
		t.Fatalf("lease lookup: %v", err)
	}
	if lease == nil {
		t.Fatalf("ack committed no lease")
	}
	if lease.SubnetID != sn.ID {
		t.Fatalf("lease subnet = %s, want %s", lease.SubnetID, sn.ID)
	}
	if got := lease.LeaseEnd.Sub(lease.LeaseStart); got != 24*time.Hour {
		t.Fatalf("lease window = %s, want 24h", got)
	}
	if lease.Hostname != "builder-7" {
		t.Fatalf("lease hostname = %q, want builder-7", lease.Hostname)
	}
}

func TestRequestLeaseCappedAtMax(t *testing.T) {
	ms, _ := testStore(t)
	cfg := defaultTestConfig()
	cfg.DefaultLeaseTime = 24 * time.Hour
	cfg.MaxLeaseTime = time.Hour
	e := newTestEngine(ms, cfg)

	req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeRequest,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 120)))
	reply := e.Handle(context.Background(), req, nil)

	if got := replyType(t, reply); got != dhcpwire.MessageTypeAck {
		t.Fatalf("reply type = %s, want ACK", got)
	}
	if secs, ok := optionSeconds(t, reply, dhcpwire.OptionLeaseTime); !ok || secs != 3600 {
		t.Fatalf("lease time = %d (present %v), want capped 3600", secs, ok)
	}

	lease, err := ms.GetActiveLease(context.Background(), req.CHAddr)
	if err != nil || lease == nil {
		t.Fatalf("lease lookup = (%+v, %v)", lease, err)
	}
	if got := lease.LeaseEnd.Sub(lease.LeaseStart); got != time.Hour {
		t.Fatalf("lease window = %s, want capped 1h", got)
	}
}

func TestRequestOutsidePool(t *testing.T) {
	for _, tc := range []struct {
		name string
		addr net.IP
	}{
		{"above range", ip4(192, 168, 1, 200)},
		{"gateway", ip4(192, 168, 1, 1)},
		{"network", ip4(192, 168, 1, 0)},
		{"broadcast", ip4(192, 168, 1, 255)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ms, _ := testStore(t)
			e := newTestEngine(ms, defaultTestConfig())

			req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeRequest,
				dhcpwire.OptRequestedIP(tc.addr))
			reply := e.Handle(context.Background(), req, nil)
			if got := replyType(t, reply); got != dhcpwire.MessageTypeNak {
				t.Fatalf("reply type = %s, want NAK", got)
			}
		})
	}
}

func TestRequestNakSuppressed(t *testing.T) {
	ms, _ := testStore(t)
	cfg := defaultTestConfig()
	cfg.NakOnUnavailable = false
	e := newTestEngine(ms, cfg)

	req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeRequest,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 200)))
	if reply := e.Handle(context.Background(), req, nil); reply != nil {
		t.Fatalf("suppressed nak still replied with %+v", reply)
	}
}

func TestRequestHeldByOtherClient(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())

	now := time.Now()
	holder := mustMac(t, "11:22:33:44:55:66")
	if _, err := ms.CreateOrExtendLease(context.Background(), holder, sn.ID, ip4(192, 168, 1, 120), now, now.Add(time.Hour), ""); err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeRequest,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 120)))
	reply := e.Handle(context.Background(), req, nil)
	if got := replyType(t, reply); got != dhcpwire.MessageTypeNak {
		t.Fatalf("reply type = %s, want NAK", got)
	}

	lease, err := ms.GetActiveLease(context.Background(), holder)
	if err != nil || lease == nil {
		t.Fatalf("holder lease lookup = (%+v, %v)", lease, err)
	}
	if lease.MAC != holder {
		t.Fatalf("lease stolen by %s", lease.MAC)
	}
}

func TestRequestRenewalExtends(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())
	mac := mustMac(t, "11:22:33:44:55:66")

	now := time.Now()
	first, err := ms.CreateOrExtendLease(context.Background(), mac, sn.ID, ip4(192, 168, 1, 110), now.Add(-time.Hour), now.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	req := clientPacket(t, "11:22:33:44:55:66", dhcpwire.MessageTypeRequest,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 110)))
	reply := e.Handle(context.Background(), req, nil)
	if got := replyType(t, reply); got != dhcpwire.MessageTypeAck {
		t.Fatalf("reply type = %s, want ACK", got)
	}

	renewed, err := ms.GetActiveLease(context.Background(), mac)
	if err != nil || renewed == nil {
		t.Fatalf("renewed lease lookup = (%+v, %v)", renewed, err)
	}
	if renewed.ID != first.ID {
		t.Fatalf("renewal created new row %s, want %s", renewed.ID, first.ID)
	}
	if !renewed.LeaseEnd.After(first.LeaseEnd) {
		t.Fatalf("renewal did not extend: %v -> %v", first.LeaseEnd, renewed.LeaseEnd)
	}
}

func TestReleaseFreesAddress(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())
	mac := mustMac(t, "11:22:33:44:55:66")

	now := time.Now()
	if _, err := ms.CreateOrExtendLease(context.Background(), mac, sn.ID, ip4(192, 168, 1, 105), now, now.Add(time.Hour), ""); err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	if reply := e.Handle(context.Background(), clientPacket(t, "11:22:33:44:55:66", dhcpwire.MessageTypeRelease), nil); reply != nil {
		t.Fatalf("release replied with %+v, want silence", reply)
	}

	lease, err := ms.GetActiveLease(context.Background(), mac)
	if err != nil {
		t.Fatalf("lease lookup: %v", err)
	}
	if lease != nil {
		t.Fatalf("lease still active after release: %+v", lease)
	}

	// The freed address goes back to the pool but first-fit starts over, so
	// the next client gets the lowest free address, not the released one.
	reply := e.Handle(context.Background(), clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeDiscover), nil)
	if got := replyType(t, reply); got != dhcpwire.MessageTypeOffer {
		t.Fatalf("reply type = %s, want OFFER", got)
	}
	if !reply.YIAddr.Equal(ip4(192, 168, 1, 100)) {
		t.Fatalf("post-release offer = %s, want 192.168.1.100", reply.YIAddr)
	}
}

func TestDeclineRetiresLease(t *testing.T) {
	ms, sn := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())
	mac := mustMac(t, "11:22:33:44:55:66")

	now := time.Now()
	if _, err := ms.CreateOrExtendLease(context.Background(), mac, sn.ID, ip4(192, 168, 1, 110), now, now.Add(time.Hour), ""); err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	req := clientPacket(t, "11:22:33:44:55:66", dhcpwire.MessageTypeDecline,
		dhcpwire.OptRequestedIP(ip4(192, 168, 1, 110)))
	if reply := e.Handle(context.Background(), req, nil); reply != nil {
		t.Fatalf("decline replied with %+v, want silence", reply)
	}

	lease, err := ms.GetActiveLease(context.Background(), mac)
	if err != nil {
		t.Fatalf("lease lookup: %v", err)
	}
	if lease != nil {
		t.Fatalf("lease still active after decline: %+v", lease)
	}
}

func TestInform(t *testing.T) {
	t.Run("answers with network parameters", func(t *testing.T) {
		ms, sn := testStore(t)
		e := newTestEngine(ms, defaultTestConfig())

		req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeInform)
		req.CIAddr = ip4(192, 168, 1, 77)
		reply := e.Handle(context.Background(), req, nil)

		if got := replyType(t, reply); got != dhcpwire.MessageTypeAck {
			t.Fatalf("reply type = %s, want ACK", got)
		}
		if !reply.YIAddr.Equal(net.IPv4zero) {
			t.Fatalf("inform ack yiaddr = %s, want zero", reply.YIAddr)
		}
		if _, ok := reply.GetOption(dhcpwire.OptionLeaseTime); ok {
			t.Fatalf("inform ack carries a lease time option")
		}
		if _, ok := reply.GetOption(dhcpwire.OptionRenewalTime); ok {
			t.Fatalf("inform ack carries a renewal time option")
		}
		router, ok := reply.GetOption(dhcpwire.OptionRouter)
		if !ok {
			t.Fatalf("inform ack missing router option")
		}
		if ips, _ := router.IPList(); len(ips) != 1 || !ips[0].Equal(sn.Gateway) {
			t.Fatalf("router option = %v, want [%s]", ips, sn.Gateway)
		}
	})

	t.Run("disabled by config", func(t *testing.T) {
		ms, _ := testStore(t)
		cfg := defaultTestConfig()
		cfg.ServeInform = false
		e := newTestEngine(ms, cfg)

		req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeInform)
		req.CIAddr = ip4(192, 168, 1, 77)
		if reply := e.Handle(context.Background(), req, nil); reply != nil {
			t.Fatalf("disabled inform replied with %+v", reply)
		}
	})
}

func TestConcurrentRequestsSingleWinner(t *testing.T) {
	ms, _ := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())
	addr := ip4(192, 168, 1, 130)

	const clients = 8
	var wg sync.WaitGroup
	acks := make(chan dhcpwire.MacAddress, clients)
	for i := 0; i < clients; i++ {
		mac := fmt.Sprintf("02:00:00:00:01:%02X", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := clientPacket(t, mac, dhcpwire.MessageTypeRequest, dhcpwire.OptRequestedIP(addr))
			reply := e.Handle(context.Background(), req, nil)
			if reply == nil {
				return
			}
			if mt, _ := reply.MessageType(); mt == dhcpwire.MessageTypeAck {
				acks <- req.CHAddr
			}
		}()
	}
	wg.Wait()
	close(acks)

	var winners []dhcpwire.MacAddress
	for mac := range acks {
		winners = append(winners, mac)
	}
	if len(winners) != 1 {
		t.Fatalf("acks = %d, want exactly 1", len(winners))
	}

	lease, err := ms.GetActiveLease(context.Background(), winners[0])
	if err != nil || lease == nil {
		t.Fatalf("winner lease lookup = (%+v, %v)", lease, err)
	}
	if !lease.Address.Equal(addr) {
		t.Fatalf("winner lease address = %s, want %s", lease.Address, addr)
	}
}

type failingStore struct {
	store.LeaseStore
	err error
}

func (s failingStore) GetStaticByMAC(context.Context, dhcpwire.MacAddress) (*store.StaticIP, error) {
	return nil, s.err
}

func TestStoreFailureStaysSilent(t *testing.T) {
	ms, _ := testStore(t)
	e := newTestEngine(failingStore{LeaseStore: ms, err: errors.New("connection refused")}, defaultTestConfig())

	for _, mt := range []dhcpwire.MessageType{dhcpwire.MessageTypeDiscover, dhcpwire.MessageTypeRequest} {
		req := clientPacket(t, "99:88:77:66:55:44", mt, dhcpwire.OptRequestedIP(ip4(192, 168, 1, 120)))
		if reply := e.Handle(context.Background(), req, nil); reply != nil {
			t.Fatalf("%s with failing store replied with %+v, want silence", mt, reply)
		}
	}
}

func TestHandleIgnoresInvalidPackets(t *testing.T) {
	ms, _ := testStore(t)
	e := newTestEngine(ms, defaultTestConfig())

	t.Run("reply op", func(t *testing.T) {
		req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeDiscover)
		req.Op = dhcpwire.OpReply
		if reply := e.Handle(context.Background(), req, nil); reply != nil {
			t.Fatalf("reply-op packet answered with %+v", reply)
		}
	})

	t.Run("missing message type", func(t *testing.T) {
		req := clientPacket(t, "99:88:77:66:55:44", dhcpwire.MessageTypeDiscover)
		req.Options = nil
		if reply := e.Handle(context.Background(), req, nil); reply != nil {
			t.Fatalf("untyped packet answered with %+v", reply)
		}
	})
}
