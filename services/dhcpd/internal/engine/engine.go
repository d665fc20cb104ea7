package engine

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"rangerd/pkg/bus"
	"rangerd/pkg/dhcpwire"
	"rangerd/services/dhcpd/internal/store"
)

// Config carries the allocation policy knobs.
type Config struct {
	DefaultLeaseTime time.Duration
	MaxLeaseTime     time.Duration
	NakOnUnavailable bool
	ServeInform      bool
}

// Engine decides how to answer one parsed packet. It keeps no state of its
// own between packets; everything lives in the lease store, so any number
// of Handle calls may run concurrently.
type Engine struct {
	store  store.LeaseStore
	cfg    Config
	logger *log.Logger
	bus    *bus.Bus
	now    func() time.Time
}

func New(st store.LeaseStore, cfg Config, logger *log.Logger, b *bus.Bus) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.DefaultLeaseTime <= 0 {
		cfg.DefaultLeaseTime = 24 * time.Hour
	}
	if cfg.MaxLeaseTime <= 0 {
		cfg.MaxLeaseTime = 7 * 24 * time.Hour
	}
	return &Engine{store: st, cfg: cfg, logger: logger, bus: b, now: time.Now}
}

// Handle processes one inbound packet and returns the reply to send, or nil
// for silence. local is the unicast address of the listener that received
// the packet; it may be nil or unspecified.
func (e *Engine) Handle(ctx context.Context, req *dhcpwire.Packet, local net.IP) *dhcpwire.Packet {
	if req.Op != dhcpwire.OpRequest {
		packetsDropped.WithLabelValues("not_a_request").Inc()
		return nil
	}
	msgType, ok := req.MessageType()
	if !ok {
		packetsDropped.WithLabelValues("no_message_type").Inc()
		return nil
	}
	packetsReceived.WithLabelValues(msgType.String()).Inc()

	var reply *dhcpwire.Packet
	switch msgType {
	case dhcpwire.MessageTypeDiscover:
		reply = e.handleDiscover(ctx, req, local)
	case dhcpwire.MessageTypeRequest:
		reply = e.handleRequest(ctx, req)
	case dhcpwire.MessageTypeRelease:
		e.handleRelease(ctx, req)
	case dhcpwire.MessageTypeDecline:
		e.handleDecline(ctx, req)
	case dhcpwire.MessageTypeInform:
		reply = e.handleInform(ctx, req, local)
	default:
		packetsDropped.WithLabelValues("unhandled_type").Inc()
	}

	if reply != nil {
		if mt, ok := reply.MessageType(); ok {
			repliesSent.WithLabelValues(mt.String()).Inc()
		}
	}
	return reply
}

func (e *Engine) handleDiscover(ctx context.Context, req *dhcpwire.Packet, local net.IP) *dhcpwire.Packet {
	mac := req.CHAddr

	subnet, err := e.reachableSubnet(ctx, req.GIAddr, local)
	if err != nil {
		return e.storeFailure("resolve subnet", mac, err)
	}
	if subnet == nil {
		packetsDropped.WithLabelValues("no_subnet").Inc()
		return nil
	}

	static, err := e.store.GetStaticByMAC(ctx, mac)
	if err != nil {
		return e.storeFailure("static lookup", mac, err)
	}
	if static != nil && static.SubnetID == subnet.ID {
		e.logger.Printf("INFO offering static %s to %s", static.Address, mac)
		return e.buildOffer(req, subnet, static.Address)
	}

	lease, err := e.store.GetActiveLease(ctx, mac)
	if err != nil {
		return e.storeFailure("lease lookup", mac, err)
	}
	if lease != nil {
		leaseSubnet := subnet
		if lease.SubnetID != subnet.ID {
			leaseSubnet, err = e.store.GetSubnet(ctx, lease.SubnetID)
			if err != nil {
				return e.storeFailure("lease subnet lookup", mac, err)
			}
		}
		if leaseSubnet != nil {
			e.logger.Printf("INFO re-offering %s to %s", lease.Address, mac)
			return e.buildOffer(req, leaseSubnet, lease.Address)
		}
	}

	addr, err := e.pickDynamicAddress(ctx, subnet)
	if err != nil {
		return e.storeFailure("scan pool", mac, err)
	}
	if addr == nil {
		allocationMisses.Inc()
		e.logger.Printf("WARN no free address for %s in %s/%d", mac, subnet.Network, subnet.PrefixLen)
		return nil
	}

	start := e.now().UTC()
	lease, err = e.store.CreateOrExtendLease(ctx, mac, subnet.ID, addr, start, start.Add(e.leaseDuration()), hostnameOf(req))
	if errors.Is(err, store.ErrAddressInUse) {
		// Another claimant reserved it first. The client retries on its own.
		allocationMisses.Inc()
		return nil
	}
	if err != nil {
		return e.storeFailure("reserve address", mac, err)
	}
	e.publishLease(ctx, SubjectLeaseOffered, lease)
	e.logger.Printf("INFO offering %s to %s", lease.Address, mac)
	return e.buildOffer(req, subnet, lease.Address)
}

func (e *Engine) handleRequest(ctx context.Context, req *dhcpwire.Packet) *dhcpwire.Packet {
	mac := req.CHAddr

	requested, ok := req.RequestedIP()
	if !ok {
		packetsDropped.WithLabelValues("no_requested_ip").Inc()
		return nil
	}

	static, err := e.store.GetStaticByMAC(ctx, mac)
	if err != nil {
		return e.storeFailure("static lookup", mac, err)
	}
	if static != nil && static.Address.Equal(requested) {
		subnet, err := e.store.GetSubnet(ctx, static.SubnetID)
		if err != nil {
			return e.storeFailure("subnet lookup", mac, err)
		}
		if subnet == nil {
			packetsDropped.WithLabelValues("no_subnet").Inc()
			return nil
		}
		e.logger.Printf("INFO acked static %s for %s", requested, mac)
		return e.buildAck(req, subnet, requested)
	}

	subnet, err := e.subnetForAddress(ctx, requested)
	if err != nil {
		return e.storeFailure("resolve subnet", mac, err)
	}
	if subnet == nil {
		packetsDropped.WithLabelValues("no_subnet").Inc()
		return nil
	}

	denied, err := e.requestDenied(ctx, subnet, mac, requested)
	if err != nil {
		return e.storeFailure("check address", mac, err)
	}
	if denied != "" {
		return e.nak(req, subnet, mac, requested, denied)
	}

	start := e.now().UTC()
	lease, err := e.store.CreateOrExtendLease(ctx, mac, subnet.ID, requested, start, start.Add(e.leaseDuration()), hostnameOf(req))
	if errors.Is(err, store.ErrAddressInUse) {
		return e.nak(req, subnet, mac, requested, "held by another client")
	}
	if err != nil {
		return e.storeFailure("commit lease", mac, err)
	}
	e.publishLease(ctx, SubjectLeaseAcked, lease)
	e.logger.Printf("INFO acked %s for %s until %s", lease.Address, mac, lease.LeaseEnd.Format(time.RFC3339))
	return e.buildAck(req, subnet, lease.Address)
}

func (e *Engine) handleRelease(ctx context.Context, req *dhcpwire.Packet) {
	mac := req.CHAddr
	lease, err := e.store.GetActiveLease(ctx, mac)
	if err != nil {
		e.storeFailure("lease lookup", mac, err)
		return
	}
	if lease == nil {
		return
	}
	if err := e.store.ExpireLease(ctx, lease.ID); err != nil {
		e.storeFailure("expire lease", mac, err)
		return
	}
	e.publishLease(ctx, SubjectLeaseReleased, lease)
	e.logger.Printf("INFO released %s from %s", lease.Address, mac)
}

func (e *Engine) handleDecline(ctx context.Context, req *dhcpwire.Packet) {
	mac := req.CHAddr
	lease, err := e.store.GetActiveLease(ctx, mac)
	if err != nil {
		e.storeFailure("lease lookup", mac, err)
		return
	}
	if lease == nil {
		return
	}
	if declined, ok := req.RequestedIP(); ok && !lease.Address.Equal(declined) {
		return
	}
	if err := e.store.ExpireLease(ctx, lease.ID); err != nil {
		e.storeFailure("expire lease", mac, err)
		return
	}
	declinedAddresses.Inc()
	e.publishLease(ctx, SubjectLeaseDeclined, lease)
	e.logger.Printf("WARN %s declined %s, lease retired", mac, lease.Address)
}

func (e *Engine) handleInform(ctx context.Context, req *dhcpwire.Packet, local net.IP) *dhcpwire.Packet {
	if !e.cfg.ServeInform {
		packetsDropped.WithLabelValues("inform_disabled").Inc()
		return nil
	}
	mac := req.CHAddr

	var subnet *store.Subnet
	var err error
	if !isZeroIP(req.CIAddr) {
		subnet, err = e.subnetForAddress(ctx, req.CIAddr)
	} else {
		subnet, err = e.reachableSubnet(ctx, req.GIAddr, local)
	}
	if err != nil {
		return e.storeFailure("resolve subnet", mac, err)
	}
	if subnet == nil {
		packetsDropped.WithLabelValues("no_subnet").Inc()
		return nil
	}

	opts := []dhcpwire.Option{
		dhcpwire.OptMessageType(dhcpwire.MessageTypeAck),
		dhcpwire.OptServerID(subnet.Gateway),
	}
	opts = append(opts, e.subnetOptions(subnet)...)
	return e.reply(req, nil, subnet.Gateway, opts)
}

// reachableSubnet resolves which subnet a packet belongs to: the relay
// address wins, then the listener's own address, then the first enabled
// subnet for flat single-network setups.
func (e *Engine) reachableSubnet(ctx context.Context, giaddr, local net.IP) (*store.Subnet, error) {
	subnets, err := e.store.ListEnabledSubnets(ctx)
	if err != nil {
		return nil, err
	}
	if !isZeroIP(giaddr) {
		for i := range subnets {
			if subnetContains(&subnets[i], giaddr) {
				return &subnets[i], nil
			}
		}
	}
	if !isZeroIP(local) {
		for i := range subnets {
			if subnetContains(&subnets[i], local) {
				return &subnets[i], nil
			}
		}
	}
	if len(subnets) > 0 {
		return &subnets[0], nil
	}
	return nil, nil
}

func (e *Engine) subnetForAddress(ctx context.Context, addr net.IP) (*store.Subnet, error) {
	subnets, err := e.store.ListEnabledSubnets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range subnets {
		if subnetContains(&subnets[i], addr) {
			return &subnets[i], nil
		}
	}
	return nil, nil
}

// pickDynamicAddress walks the subnet's enabled ranges in order and returns
// the first address not excluded by topology, static bindings, or active
// leases. nil means the pool is exhausted.
func (e *Engine) pickDynamicAddress(ctx context.Context, subnet *store.Subnet) (net.IP, error) {
	ranges, err := e.store.ListEnabledRanges(ctx, subnet.ID)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, nil
	}
	statics, err := e.store.ListEnabledStaticIPs(ctx, subnet.ID)
	if err != nil {
		return nil, err
	}
	leases, err := e.store.ListActiveLeasesForSubnet(ctx, subnet.ID)
	if err != nil {
		return nil, err
	}

	taken := make(map[uint32]struct{}, len(statics)+len(leases)+3)
	taken[networkOf(subnet)] = struct{}{}
	taken[broadcastOf(subnet)] = struct{}{}
	taken[ipToUint32(subnet.Gateway)] = struct{}{}
	for _, s := range statics {
		taken[ipToUint32(s.Address)] = struct{}{}
	}
	for _, l := range leases {
		taken[ipToUint32(l.Address)] = struct{}{}
	}

	for _, r := range ranges {
		start, end := ipToUint32(r.StartAddress), ipToUint32(r.EndAddress)
		for a := start; a <= end; a++ {
			if _, used := taken[a]; !used {
				return uint32ToIP(a), nil
			}
			if a == end {
				break
			}
		}
	}
	return nil, nil
}

func (e *Engine) requestDenied(ctx context.Context, subnet *store.Subnet, mac dhcpwire.MacAddress, addr net.IP) (string, error) {
	statics, err := e.store.ListEnabledStaticIPs(ctx, subnet.ID)
	if err != nil {
		return "", err
	}
	for _, s := range statics {
		if s.Address.Equal(addr) && s.MAC != mac {
			return "reserved for another client", nil
		}
	}

	v := ipToUint32(addr)
	if v == networkOf(subnet) || v == broadcastOf(subnet) || v == ipToUint32(subnet.Gateway) {
		return "outside dynamic pool", nil
	}
	ranges, err := e.store.ListEnabledRanges(ctx, subnet.ID)
	if err != nil {
		return "", err
	}
	for _, r := range ranges {
		if v >= ipToUint32(r.StartAddress) && v <= ipToUint32(r.EndAddress) {
			return "", nil
		}
	}
	return "outside dynamic pool", nil
}

func (e *Engine) nak(req *dhcpwire.Packet, subnet *store.Subnet, mac dhcpwire.MacAddress, addr net.IP, reason string) *dhcpwire.Packet {
	e.logger.Printf("WARN refusing %s for %s: %s", addr, mac, reason)
	if !e.cfg.NakOnUnavailable {
		packetsDropped.WithLabelValues("nak_suppressed").Inc()
		return nil
	}
	return e.reply(req, nil, nil, []dhcpwire.Option{
		dhcpwire.OptMessageType(dhcpwire.MessageTypeNak),
		dhcpwire.OptServerID(subnet.Gateway),
	})
}

func (e *Engine) leaseDuration() time.Duration {
	d := e.cfg.DefaultLeaseTime
	if d > e.cfg.MaxLeaseTime {
		d = e.cfg.MaxLeaseTime
	}
	return d
}

func (e *Engine) leaseSeconds() uint32 {
	return uint32(e.leaseDuration() / time.Second)
}

// subnetOptions are the network parameters shared by offers, acks, and
// inform replies.
func (e *Engine) subnetOptions(subnet *store.Subnet) []dhcpwire.Option {
	opts := []dhcpwire.Option{
		dhcpwire.OptSubnetMask(maskIP(subnet.PrefixLen)),
		dhcpwire.OptRouter(subnet.Gateway),
	}
	if len(subnet.DNSServers) > 0 {
		opts = append(opts, dhcpwire.OptDNSServers(subnet.DNSServers...))
	}
	if subnet.DomainName != "" {
		opts = append(opts, dhcpwire.OptDomainName(subnet.DomainName))
	}
	return opts
}

func (e *Engine) buildOffer(req *dhcpwire.Packet, subnet *store.Subnet, addr net.IP) *dhcpwire.Packet {
	opts := []dhcpwire.Option{
		dhcpwire.OptMessageType(dhcpwire.MessageTypeOffer),
		dhcpwire.OptServerID(subnet.Gateway),
		dhcpwire.OptLeaseTime(e.leaseSeconds()),
	}
	opts = append(opts, e.subnetOptions(subnet)...)
	return e.reply(req, addr, subnet.Gateway, opts)
}

func (e *Engine) buildAck(req *dhcpwire.Packet, subnet *store.Subnet, addr net.IP) *dhcpwire.Packet {
	secs := e.leaseSeconds()
	opts := []dhcpwire.Option{
		dhcpwire.OptMessageType(dhcpwire.MessageTypeAck),
		dhcpwire.OptServerID(subnet.Gateway),
		dhcpwire.OptLeaseTime(secs),
		dhcpwire.OptRenewalTime(secs / 2),
		dhcpwire.OptRebindingTime(uint32(uint64(secs) * 7 / 8)),
	}
	opts = append(opts, e.subnetOptions(subnet)...)
	return e.reply(req, addr, subnet.Gateway, opts)
}

// reply fills the BOOTP header for a server response. ciaddr is always
// zeroed; clients that still hold an address learn it from yiaddr.
func (e *Engine) reply(req *dhcpwire.Packet, yiaddr, siaddr net.IP, opts []dhcpwire.Option) *dhcpwire.Packet {
	if yiaddr == nil {
		yiaddr = net.IPv4zero
	}
	if siaddr == nil {
		siaddr = net.IPv4zero
	}
	return &dhcpwire.Packet{
		Op:      dhcpwire.OpReply,
		HType:   req.HType,
		HLen:    req.HLen,
		XID:     req.XID,
		Flags:   req.Flags,
		CIAddr:  net.IPv4zero.To4(),
		YIAddr:  yiaddr.To4(),
		SIAddr:  siaddr.To4(),
		GIAddr:  req.GIAddr,
		CHAddr:  req.CHAddr,
		Options: opts,
	}
}

func (e *Engine) storeFailure(op string, mac dhcpwire.MacAddress, err error) *dhcpwire.Packet {
	storeErrors.Inc()
	e.logger.Printf("ERROR %s for %s: %v", op, mac, err)
	return nil
}

func hostnameOf(req *dhcpwire.Packet) string {
	name, _ := req.Hostname()
	return name
}
