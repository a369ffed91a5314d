package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Built-in section type names.
const (
	TypeConfig      = "config"
	TypeRouting     = "routing"
	TypeDNS         = "dns"
	TypeControl     = "control"
	TypeNode        = "node"
	TypeRoutingNode = "routing_node"
	TypeRoutingRule = "routing_rule"
	TypeDNSServer   = "dns_server"
	TypeDNSRule     = "dns_rule"
	TypeRuleset     = "ruleset"
)

// Sentinel option values.
const (
	OutboundDirect = "direct-out"
	OutboundBlock  = "block-out"
	OutboundAny    = "any-out"

	DNSDefault = "default-dns"
	DNSSystem  = "system-dns"
	DNSBlock   = "block-dns"

	NodeDisabled = "nil"
	NodeURLTest  = "urltest"

	RoutingModeCustom = "custom"
)

var (
	outboundSentinels = []Option{
		{Value: OutboundDirect, Label: "Direct"},
		{Value: OutboundBlock, Label: "Block"},
	}
	dnsSentinels = []Option{
		{Value: DNSDefault, Label: "Default DNS (issued by WAN)"},
		{Value: DNSSystem, Label: "System DNS"},
		{Value: DNSBlock, Label: "Block DNS queries"},
	}
	domainStrategies = opts(
		"", "Default",
		"prefer_ipv4", "Prefer IPv4",
		"prefer_ipv6", "Prefer IPv6",
		"ipv4_only", "IPv4 only",
		"ipv6_only", "IPv6 only",
	)
)

// Predicates over the global settings section.
var (
	isCustomRouting = Eq(In(TypeConfig, TypeConfig, "routing_mode"), RoutingModeCustom)
	ipv6Enabled     = Eq(In(TypeConfig, TypeConfig, "ipv6_support"), FlagEnabled)
)

// Builtin returns a registry holding the proxy router section types.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(
		configType(),
		routingType(),
		dnsType(),
		controlType(),
		nodeType(),
		routingNodeType(),
		routingRuleType(),
		dnsServerType(),
		dnsRuleType(),
		rulesetType(),
	)
	if err := r.Validate(); err != nil {
		panic(err)
	}
	return r
}

func configType() *SectionType {
	notCustom := Clauses(true, Eq(Field("routing_mode"), RoutingModeCustom))
	return &SectionType{
		Name:      TypeConfig,
		Title:     "Global settings",
		Singleton: true,
		Fields: []*Descriptor{
			{
				Key: "routing_mode", Title: "Routing mode", Kind: KindChoice, Required: true,
				Default: []string{"bypass_mainland_china"},
				Values: opts(
					"gfwlist", "GFWList",
					"bypass_mainland_china", "Bypass mainland China",
					"proxy_mainland_china", "Only proxy mainland China",
					RoutingModeCustom, "Custom routing",
					"global", "Global",
				),
			},
			{
				Key: "routing_port", Title: "Routing ports", Kind: KindChoice,
				Default: []string{"common"},
				Values:  opts("all", "All ports", "common", "Common ports only"),
				Depends: []Predicate{notCustom},
			},
			{
				Key: "proxy_mode", Title: "Proxy mode", Kind: KindChoice, Required: true,
				Default: []string{"redirect_tproxy"},
				Values: opts(
					"redirect", "Redirect TCP",
					"redirect_tproxy", "Redirect TCP + TProxy UDP",
					"redirect_tun", "Redirect TCP + Tun UDP",
					"tun", "Tun TCP/UDP",
				),
			},
			{
				Key: "ipv6_support", Title: "IPv6 support", Kind: KindFlag,
				Default: []string{FlagEnabled},
			},
			{
				Key: "main_node", Title: "Main node", Kind: KindChoice,
				Default: []string{NodeDisabled},
				Source: &OptionSource{
					Target:  TypeNode,
					Leading: []Option{{Value: NodeDisabled, Label: "Disable"}, {Value: NodeURLTest, Label: "URLTest"}},
				},
				Depends: []Predicate{notCustom},
			},
			{
				Key: "main_udp_node", Title: "Main UDP node", Kind: KindChoice,
				Default: []string{NodeDisabled},
				Source: &OptionSource{
					Target: TypeNode,
					Leading: []Option{
						{Value: NodeDisabled, Label: "Disable"},
						{Value: "same", Label: "Same as main node"},
					},
				},
				Depends: []Predicate{All(
					notCustom,
					Ne(Field("main_node"), NodeDisabled),
					Match(Field("proxy_mode"), `tproxy|tun`),
				)},
			},
			{
				Key: "dns_server", Title: "DNS server", Kind: KindText, Datatype: DatatypeHost,
				Default: []string{"8.8.8.8"},
				Depends: []Predicate{notCustom},
				Check:   checkDNSAddress,
			},
			{
				Key: "china_dns_server", Title: "China DNS server", Kind: KindText,
				Default: []string{"223.5.5.5"},
				Depends: []Predicate{Eq(Field("routing_mode"), "bypass_mainland_china")},
				Check:   checkDNSAddress,
			},
		},
	}
}

func routingType() *SectionType {
	return &SectionType{
		Name:      TypeRouting,
		Title:     "Routing settings",
		Singleton: true,
		Fields: []*Descriptor{
			{
				Key: "tcpip_stack", Title: "TCP/IP stack", Kind: KindChoice,
				Default: []string{"system"},
				Values:  opts("mixed", "Mixed", "system", "System", "gvisor", "gVisor"),
				Depends: []Predicate{All(isCustomRouting, Match(In(TypeConfig, TypeConfig, "proxy_mode"), `tun`))},
			},
			{
				Key: "sniff_override", Title: "Override destination", Kind: KindFlag,
				Default: []string{FlagEnabled},
				Depends: []Predicate{isCustomRouting},
			},
			{
				Key: "bypass_cn_traffic", Title: "Bypass CN traffic", Kind: KindFlag,
				Default: []string{FlagDisabled},
				Depends: []Predicate{isCustomRouting},
			},
			{
				Key: "default_outbound", Title: "Default outbound", Kind: KindChoice,
				Default: []string{OutboundDirect},
				Source:  &OptionSource{Target: TypeRoutingNode, Leading: outboundSentinels},
				Depends: []Predicate{isCustomRouting},
			},
		},
	}
}

func dnsType() *SectionType {
	return &SectionType{
		Name:      TypeDNS,
		Title:     "DNS settings",
		Singleton: true,
		Fields: []*Descriptor{
			{
				Key: "dns_strategy", Title: "Default DNS strategy", Kind: KindChoice,
				Values:  domainStrategies,
				Depends: []Predicate{isCustomRouting},
			},
			{
				Key: "default_server", Title: "Default DNS server", Kind: KindChoice,
				Default: []string{DNSDefault},
				Source:  &OptionSource{Target: TypeDNSServer, Leading: dnsSentinels},
				Depends: []Predicate{isCustomRouting},
			},
			{
				Key: "disable_cache", Title: "Disable DNS cache", Kind: KindFlag,
				Default: []string{FlagDisabled},
				Depends: []Predicate{isCustomRouting},
			},
			{
				Key: "disable_cache_expire", Title: "Disable cache expire", Kind: KindFlag,
				Default: []string{FlagDisabled},
				Depends: []Predicate{All(isCustomRouting, Eq(Field("disable_cache"), FlagDisabled))},
			},
			{
				Key: "client_subnet", Title: "EDNS Client subnet", Kind: KindText, Datatype: DatatypeCIDR,
				Depends: []Predicate{isCustomRouting},
			},
		},
	}
}

func controlType() *SectionType {
	exceptListed := Eq(Field("lan_proxy_mode"), "except_listed")
	listedOnly := Eq(Field("lan_proxy_mode"), "listed_only")
	return &SectionType{
		Name:      TypeControl,
		Title:     "Access control",
		Singleton: true,
		Fields: []*Descriptor{
			{
				Key: "lan_proxy_mode", Title: "Proxy filter mode", Kind: KindChoice,
				Default: []string{"disabled"},
				Values: opts(
					"disabled", "Disable",
					"listed_only", "Proxy listed only",
					"except_listed", "Proxy all except listed",
				),
			},
			{Key: "lan_direct_ipv4_ips", Title: "Direct IPv4 IP-s", Kind: KindList, Datatype: DatatypeIP4Addr, Depends: []Predicate{exceptListed}},
			{Key: "lan_direct_ipv6_ips", Title: "Direct IPv6 IP-s", Kind: KindList, Datatype: DatatypeIP6Addr, Depends: []Predicate{All(exceptListed, ipv6Enabled)}},
			{Key: "lan_proxy_ipv4_ips", Title: "Proxy IPv4 IP-s", Kind: KindList, Datatype: DatatypeIP4Addr, Depends: []Predicate{listedOnly}},
			{Key: "lan_proxy_ipv6_ips", Title: "Proxy IPv6 IP-s", Kind: KindList, Datatype: DatatypeIP6Addr, Depends: []Predicate{All(listedOnly, ipv6Enabled)}},
			{Key: "wan_proxy_ipv4_ips", Title: "WAN proxy IPv4 IP-s", Kind: KindList, Datatype: DatatypeIP4Addr},
			{Key: "wan_proxy_ipv6_ips", Title: "WAN proxy IPv6 IP-s", Kind: KindList, Datatype: DatatypeIP6Addr, Depends: []Predicate{ipv6Enabled}},
			{Key: "wan_direct_ipv4_ips", Title: "WAN direct IPv4 IP-s", Kind: KindList, Datatype: DatatypeIP4Addr},
			{Key: "wan_direct_ipv6_ips", Title: "WAN direct IPv6 IP-s", Kind: KindList, Datatype: DatatypeIP6Addr, Depends: []Predicate{ipv6Enabled}},
		},
	}
}

func nodeType() *SectionType {
	notDirect := Ne(Field("type"), "direct")
	return &SectionType{
		Name:        TypeNode,
		Title:       "Node",
		Prefix:      "node",
		UniqueScope: UniqueScopeAll,
		Fields: []*Descriptor{
			labelField(),
			{
				Key: "type", Title: "Type", Kind: KindChoice, Required: true,
				Default: []string{"socks"},
				Values: opts(
					"direct", "Direct",
					"http", "HTTP",
					"hysteria2", "Hysteria2",
					"shadowsocks", "Shadowsocks",
					"socks", "Socks",
					"trojan", "Trojan",
					"vless", "VLESS",
					"vmess", "VMess",
					"wireguard", "WireGuard",
				),
			},
			{Key: "address", Title: "Address", Kind: KindText, Datatype: DatatypeHost, Required: true, Depends: []Predicate{notDirect}},
			{Key: "port", Title: "Port", Kind: KindText, Datatype: DatatypePort, Required: true, Depends: []Predicate{notDirect}},
			{Key: "username", Title: "Username", Kind: KindText, Depends: []Predicate{Match(Field("type"), `^(http|socks)$`)}},
			{Key: "password", Title: "Password", Kind: KindText, Depends: []Predicate{Match(Field("type"), `^(http|hysteria2|shadowsocks|socks|trojan)$`)}},
			{
				Key: "shadowsocks_encrypt_method", Title: "Encrypt method", Kind: KindChoice,
				Default: []string{"aes-128-gcm"},
				Values: opts(
					"none", "none",
					"aes-128-gcm", "aes-128-gcm",
					"aes-256-gcm", "aes-256-gcm",
					"chacha20-ietf-poly1305", "chacha20-ietf-poly1305",
					"2022-blake3-aes-128-gcm", "2022-blake3-aes-128-gcm",
				),
				Depends: []Predicate{Eq(Field("type"), "shadowsocks")},
			},
			{Key: "uuid", Title: "UUID", Kind: KindText, Required: true, Depends: []Predicate{Match(Field("type"), `^(vless|vmess)$`)}, Check: checkUUID},
			{
				Key: "transport", Title: "Transport", Kind: KindChoice,
				Values:  opts("", "None", "grpc", "gRPC", "http", "HTTP", "ws", "WebSocket"),
				Depends: []Predicate{Match(Field("type"), `^(trojan|vless|vmess)$`)},
			},
			{Key: "ws_path", Title: "WebSocket path", Kind: KindText, Depends: []Predicate{Eq(Field("transport"), "ws")}},
			{
				Key: "tls", Title: "TLS", Kind: KindFlag, Default: []string{FlagDisabled},
				Depends: []Predicate{Match(Field("type"), `^(http|trojan|vless|vmess)$`)},
			},
			{Key: "tls_sni", Title: "TLS SNI", Kind: KindText, Datatype: DatatypeHostname, Depends: []Predicate{Eq(Field("tls"), FlagEnabled)}},
		},
	}
}

func routingNodeType() *SectionType {
	isURLTest := Eq(Field("node"), NodeURLTest)
	return &SectionType{
		Name:   TypeRoutingNode,
		Title:  "Routing node",
		Prefix: "routing_node",
		Fields: []*Descriptor{
			labelField(),
			enabledField(),
			{
				Key: "node", Title: "Node", Kind: KindChoice, Required: true,
				Source: &OptionSource{Target: TypeNode, Leading: []Option{{Value: NodeURLTest, Label: "URLTest"}}},
			},
			{
				Key: "urltest_nodes", Title: "URLTest nodes", Kind: KindMultiChoice, Required: true,
				Source:  &OptionSource{Target: TypeNode},
				Depends: []Predicate{isURLTest},
			},
			{Key: "urltest_url", Title: "Test URL", Kind: KindText, Depends: []Predicate{isURLTest}, Check: checkURL},
			{Key: "urltest_interval", Title: "Test interval", Kind: KindText, Datatype: DatatypeUInteger, Depends: []Predicate{isURLTest}},
			{Key: "domain_strategy", Title: "Domain strategy", Kind: KindChoice, Values: domainStrategies, Depends: []Predicate{Ne(Field("node"), NodeURLTest)}},
			{Key: "bind_interface", Title: "Bind interface", Kind: KindText, Depends: []Predicate{Ne(Field("node"), NodeURLTest)}},
			{
				Key: "outbound", Title: "Outbound", Kind: KindChoice,
				Source: &OptionSource{
					Target:      TypeRoutingNode,
					Leading:     []Option{{Value: "", Label: "Direct"}},
					ExcludeSelf: true,
					Chained:     true,
				},
				Depends: []Predicate{Ne(Field("node"), NodeURLTest)},
			},
		},
	}
}

func matchFields() []*Descriptor {
	return []*Descriptor{
		{
			Key: "ip_version", Title: "IP version", Kind: KindChoice,
			Values: opts("", "Both", "4", "IPv4", "6", "IPv6"),
		},
		{
			Key: "protocol", Title: "Protocol", Kind: KindMultiChoice,
			Values: opts("bittorrent", "BitTorrent", "dtls", "DTLS", "http", "HTTP", "quic", "QUIC", "stun", "STUN", "tls", "TLS"),
		},
		{Key: "domain", Title: "Domain name", Kind: KindList, Datatype: DatatypeHostname},
		{Key: "domain_suffix", Title: "Domain suffix", Kind: KindList},
		{Key: "domain_keyword", Title: "Domain keyword", Kind: KindList},
		{Key: "domain_regex", Title: "Domain regex", Kind: KindList, Check: checkRegex},
		{Key: "source_ip_cidr", Title: "Source IP CIDR", Kind: KindList, Datatype: DatatypeCIDR},
		{Key: "ip_cidr", Title: "IP CIDR", Kind: KindList, Datatype: DatatypeCIDR},
		{Key: "source_port", Title: "Source port", Kind: KindList, Datatype: DatatypePort},
		{Key: "source_port_range", Title: "Source port range", Kind: KindList, Datatype: DatatypePortRange},
		{Key: "port", Title: "Port", Kind: KindList, Datatype: DatatypePort},
		{Key: "port_range", Title: "Port range", Kind: KindList, Datatype: DatatypePortRange},
		{Key: "rule_set", Title: "Rule set", Kind: KindMultiChoice, Source: &OptionSource{Target: TypeRuleset}},
		{
			Key: "rule_set_ipcidr_match_source", Title: "Match source IP via rule set", Kind: KindFlag,
			Default: []string{FlagDisabled},
			Depends: []Predicate{Match(Field("rule_set"), `.+`)},
		},
		{Key: "invert", Title: "Invert", Kind: KindFlag, Default: []string{FlagDisabled}},
	}
}

func routingRuleType() *SectionType {
	fields := []*Descriptor{
		labelField(),
		enabledField(),
		{
			Key: "mode", Title: "Mode", Kind: KindChoice, Required: true,
			Default: []string{"default"},
			Values:  opts("default", "Default", "logical", "Logical"),
		},
	}
	fields = append(fields, matchFields()...)
	fields = append(fields,
		&Descriptor{
			Key: "outbound", Title: "Outbound", Kind: KindChoice, Required: true,
			Default: []string{OutboundDirect},
			Source:  &OptionSource{Target: TypeRoutingNode, Leading: outboundSentinels},
		},
	)
	return &SectionType{
		Name:   TypeRoutingRule,
		Title:  "Routing rule",
		Prefix: "routing_rule",
		Fields: fields,
	}
}

func dnsServerType() *SectionType {
	return &SectionType{
		Name:   TypeDNSServer,
		Title:  "DNS server",
		Prefix: "dns_server",
		Fields: []*Descriptor{
			labelField(),
			enabledField(),
			{Key: "address", Title: "Address", Kind: KindText, Required: true, Check: checkDNSAddress},
			{
				Key: "address_resolver", Title: "Address resolver", Kind: KindChoice,
				Source: &OptionSource{
					Target:      TypeDNSServer,
					Leading:     []Option{{Value: "", Label: "None"}, {Value: DNSDefault, Label: "Default DNS (issued by WAN)"}},
					ExcludeSelf: true,
					Chained:     true,
				},
				Depends: []Predicate{Match(Field("address"), `[a-zA-Z][-a-zA-Z0-9]*\.[a-zA-Z]{2,}`)},
			},
			{
				Key: "address_strategy", Title: "Address strategy", Kind: KindChoice,
				Values:  domainStrategies,
				Depends: []Predicate{Ne(Field("address_resolver"), "")},
			},
			{Key: "resolve_strategy", Title: "Resolve strategy", Kind: KindChoice, Values: domainStrategies},
			{
				Key: "outbound", Title: "Outbound", Kind: KindChoice,
				Default: []string{OutboundDirect},
				Source:  &OptionSource{Target: TypeRoutingNode, Leading: outboundSentinels},
			},
		},
	}
}

func dnsRuleType() *SectionType {
	fields := []*Descriptor{
		labelField(),
		enabledField(),
		{
			Key: "mode", Title: "Mode", Kind: KindChoice, Required: true,
			Default: []string{"default"},
			Values:  opts("default", "Default", "logical", "Logical"),
		},
	}
	fields = append(fields, matchFields()...)
	fields = append(fields,
		&Descriptor{
			Key: "outbound", Title: "Outbound", Kind: KindMultiChoice,
			Source: &OptionSource{
				Target:  TypeRoutingNode,
				Leading: append([]Option{{Value: OutboundAny, Label: "Any"}}, outboundSentinels...),
			},
			Exclusive: OutboundAny,
		},
		&Descriptor{
			Key: "server", Title: "Server", Kind: KindChoice, Required: true,
			Default: []string{DNSDefault},
			Source:  &OptionSource{Target: TypeDNSServer, Leading: dnsSentinels},
		},
		&Descriptor{
			Key: "dns_disable_cache", Title: "Disable DNS cache", Kind: KindFlag,
			Default: []string{FlagDisabled},
			Depends: []Predicate{Ne(Field("server"), DNSBlock)},
		},
		&Descriptor{
			Key: "rewrite_ttl", Title: "Rewrite TTL", Kind: KindText, Datatype: DatatypeUInteger,
			Depends: []Predicate{Ne(Field("server"), DNSBlock)},
		},
	)
	return &SectionType{
		Name:   TypeDNSRule,
		Title:  "DNS rule",
		Prefix: "dns_rule",
		Fields: fields,
	}
}

func rulesetType() *SectionType {
	isRemote := Eq(Field("type"), "remote")
	return &SectionType{
		Name:        TypeRuleset,
		Title:       "Rule set",
		Prefix:      "ruleset",
		UniqueScope: UniqueScopeAll,
		Fields: []*Descriptor{
			labelField(),
			enabledField(),
			{
				Key: "type", Title: "Type", Kind: KindChoice, Required: true,
				Default: []string{"remote"},
				Values:  opts("local", "Local", "remote", "Remote"),
			},
			{
				Key: "format", Title: "Format", Kind: KindChoice, Required: true,
				Default: []string{"binary"},
				Values:  opts("binary", "Binary file", "source", "Source file"),
			},
			{Key: "path", Title: "Path", Kind: KindText, Required: true, Depends: []Predicate{Eq(Field("type"), "local")}, Check: checkAbsPath},
			{Key: "url", Title: "Rule set URL", Kind: KindText, Required: true, Depends: []Predicate{isRemote}, Check: checkURL},
			{
				Key: "outbound", Title: "Outbound", Kind: KindChoice,
				Default: []string{OutboundDirect},
				Source:  &OptionSource{Target: TypeRoutingNode, Leading: outboundSentinels},
				Depends: []Predicate{isRemote},
			},
			{Key: "update_interval", Title: "Update interval", Kind: KindText, Default: []string{"1d"}, Depends: []Predicate{isRemote}, Check: checkInterval},
		},
	}
}

func labelField() *Descriptor {
	return &Descriptor{Key: "label", Title: "Label", Kind: KindText, Required: true, Unique: true}
}

func enabledField() *Descriptor {
	return &Descriptor{Key: "enabled", Title: "Enable", Kind: KindFlag, Default: []string{FlagEnabled}}
}

// opts builds options from alternating value, label pairs.
func opts(pairs ...string) []Option {
	out := make([]Option, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Option{Value: pairs[i], Label: pairs[i+1]})
	}
	return out
}

var (
	uuidPattern     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	intervalPattern = regexp.MustCompile(`^[0-9]+[smhd]$`)
	dnsSchemes      = []string{"tcp", "udp", "tls", "quic", "https", "h3", "rcode", "dhcp"}
)

func checkUUID(v string) error {
	if !uuidPattern.MatchString(v) {
		return fmt.Errorf("expecting a valid UUID")
	}
	return nil
}

func checkRegex(v string) error {
	if _, err := regexp.Compile(v); err != nil {
		return fmt.Errorf("invalid regular expression: %v", err)
	}
	return nil
}

func checkURL(v string) error {
	u, err := url.Parse(v)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("expecting a valid HTTP(S) URL")
	}
	return nil
}

func checkAbsPath(v string) error {
	if !strings.HasPrefix(v, "/") {
		return fmt.Errorf("expecting an absolute path")
	}
	return nil
}

func checkInterval(v string) error {
	if !intervalPattern.MatchString(v) {
		return fmt.Errorf("expecting an interval such as 12h or 1d")
	}
	return nil
}

// checkDNSAddress accepts "local", a bare host, or a scheme://host[:port][/path] URL.
func checkDNSAddress(v string) error {
	if v == "local" {
		return nil
	}
	scheme, rest, found := strings.Cut(v, "://")
	if !found {
		if strings.ContainsAny(v, "/ ") {
			return fmt.Errorf("expecting a DNS server address")
		}
		return nil
	}
	for _, s := range dnsSchemes {
		if s == scheme {
			if rest == "" {
				return fmt.Errorf("expecting a DNS server address")
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported DNS protocol %q", scheme)
}
