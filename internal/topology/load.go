package topology

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/viper"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/model"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/parser"
)

// File is the layout of a topology file.
type File struct {
	Networks   []NetworkConfig   `mapstructure:"networks"`
	Equipments []EquipmentConfig `mapstructure:"equipments"`
	RuleSets   []RuleSetConfig   `mapstructure:"rulesets"`
}

type NetworkConfig struct {
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`
	Border bool   `mapstructure:"border"`
}

type EquipmentConfig struct {
	Name         string            `mapstructure:"name"`
	Interfaces   []InterfaceConfig `mapstructure:"interfaces"`
	Routes       []RouteConfig     `mapstructure:"routes"`
	SourceRoutes []RouteConfig     `mapstructure:"source_routes"`
}

// InterfaceConfig binds rule sets by name to each direction.
type InterfaceConfig struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	Network string `mapstructure:"network"`
	In      string `mapstructure:"in"`
	Out     string `mapstructure:"out"`
}

type RouteConfig struct {
	Prefix    string `mapstructure:"prefix"`
	NextHop   string `mapstructure:"nexthop"`
	Interface string `mapstructure:"interface"`
	Metric    int    `mapstructure:"metric"`
	Null      bool   `mapstructure:"null"`
}

// RuleSetConfig declares a rule set. Type selects the loader: inline
// rules, a FortiGate file or a policy database.
type RuleSetConfig struct {
	Name    string          `mapstructure:"name"`
	Type    string          `mapstructure:"type"`
	File    string          `mapstructure:"file"`
	RuleSet string          `mapstructure:"ruleset"`
	Default string          `mapstructure:"default"`
	Rules   []parser.Policy `mapstructure:"rules"`
}

// DefaultAction parses Default, deny when unset.
func (c RuleSetConfig) DefaultAction() (model.Action, error) {
	if c.Default == "" {
		return model.Deny, nil
	}
	return model.ParseAction(c.Default)
}

// RuleSetLoader builds the rule set a RuleSetConfig declares.
type RuleSetLoader func(cfg RuleSetConfig) (*engine.RuleSet, error)

// Load reads a topology file. Rule set file paths are relative to it.
func Load(path string, loaders map[string]RuleSetLoader, logger *slog.Logger) (*Topology, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read topology %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to decode topology %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range f.RuleSets {
		if file := f.RuleSets[i].File; file != "" && !filepath.IsAbs(file) {
			f.RuleSets[i].File = filepath.Join(dir, file)
		}
	}
	return Build(f, loaders, logger)
}

// Build creates the topology a File describes.
func Build(f File, loaders map[string]RuleSetLoader, logger *slog.Logger) (*Topology, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := New()

	for _, nc := range f.Networks {
		prefix, err := netaddr.Parse(nc.Prefix)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", nc.Name, err)
		}
		if _, err := t.AddNetwork(nc.Name, prefix, nc.Border); err != nil {
			return nil, err
		}
	}

	ruleSets := make(map[string]*engine.RuleSet, len(f.RuleSets))
	for _, rc := range f.RuleSets {
		kind := rc.Type
		if kind == "" {
			kind = "inline"
		}
		load, ok := loaders[kind]
		if !ok {
			return nil, fmt.Errorf("rule set %s: no loader for type %q", rc.Name, kind)
		}
		rs, err := load(rc)
		if err != nil {
			return nil, fmt.Errorf("rule set %s: %w", rc.Name, err)
		}
		if _, dup := ruleSets[rc.Name]; dup {
			return nil, fmt.Errorf("%w: rule set %s", ErrDuplicate, rc.Name)
		}
		ruleSets[rc.Name] = rs
		logger.Debug("Rule set loaded", "name", rc.Name, "type", kind, "rules", len(rs.Rules))
	}
	lookupRules := func(name string) (*engine.RuleSet, error) {
		if name == "" {
			return nil, nil
		}
		rs, ok := ruleSets[name]
		if !ok {
			return nil, fmt.Errorf("unknown rule set %q", name)
		}
		return rs, nil
	}

	for _, ec := range f.Equipments {
		eq, err := t.AddEquipment(ec.Name)
		if err != nil {
			return nil, err
		}
		for _, ic := range ec.Interfaces {
			addr, err := netaddr.Parse(ic.Address)
			if err != nil {
				return nil, fmt.Errorf("interface %s/%s: %w", ec.Name, ic.Name, err)
			}
			nw, err := t.networkFor(ic.Network, addr)
			if err != nil {
				return nil, fmt.Errorf("interface %s/%s: %w", ec.Name, ic.Name, err)
			}
			if _, err := eq.AddInterface(ic.Name, addr, nw); err != nil {
				return nil, err
			}
			for dir, name := range map[model.Direction]string{model.In: ic.In, model.Out: ic.Out} {
				rs, err := lookupRules(name)
				if err != nil {
					return nil, fmt.Errorf("interface %s/%s: %w", ec.Name, ic.Name, err)
				}
				if err := eq.SetRules(ic.Name, dir, rs); err != nil {
					return nil, err
				}
			}
		}
		for _, rc := range ec.Routes {
			r, err := eq.route(rc)
			if err != nil {
				return nil, err
			}
			if err := eq.AddRoute(r); err != nil {
				return nil, err
			}
		}
		for _, rc := range ec.SourceRoutes {
			r, err := eq.route(rc)
			if err != nil {
				return nil, err
			}
			if err := eq.AddSourceRoute(r); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// networkFor returns the named network, or the one implied by addr when
// no name is given.
func (t *Topology) networkFor(name string, addr netaddr.Range) (*Network, error) {
	if name == "" {
		name = addr.Network().CIDR()
		if nw, ok := t.networks[name]; ok {
			return nw, nil
		}
		return t.AddNetwork(name, addr.Network(), false)
	}
	nw, ok := t.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return nw, nil
}

func (e *Equipment) route(rc RouteConfig) (Route, error) {
	prefix, err := netaddr.Parse(rc.Prefix)
	if err != nil {
		return Route{}, fmt.Errorf("%s route %s: %w", e.name, rc.Prefix, err)
	}
	r := Route{Prefix: prefix.Network(), Metric: rc.Metric, Null: rc.Null}
	if rc.Null {
		return r, nil
	}
	if r.NextHop, err = netaddr.Parse(rc.NextHop); err != nil {
		return Route{}, fmt.Errorf("%s route %s: next hop: %w", e.name, rc.Prefix, err)
	}
	if rc.Interface != "" {
		i, ok := e.Interface(rc.Interface)
		if !ok {
			return Route{}, fmt.Errorf("%w: %s/%s", ErrUnknownInterface, e.name, rc.Interface)
		}
		r.Interface = i
	}
	return r, nil
}
