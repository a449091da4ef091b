package parser

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/netaddr"
	"static-probe-analyzer/internal/service"
	"static-probe-analyzer/pkg/wellknown"
)

// mysqlNoSuchTable is the server error for a missing table.
const mysqlNoSuchTable = 1146

// MariaDBParser loads policies kept in a policy management database.
type MariaDBParser struct {
	db     *sql.DB
	tables *wellknown.Tables
	logger *slog.Logger
}

func NewMariaDBParser(ctx context.Context, dsn string, tables *wellknown.Tables, logger *slog.Logger) (*MariaDBParser, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MariaDBParser{db: db, tables: tables, logger: logger}, nil
}

func (p *MariaDBParser) Close() error {
	return p.db.Close()
}

// Parse loads the objects and the policies of one rule set. An empty
// rule set name loads every policy.
func (p *MariaDBParser) Parse(ctx context.Context, ruleSet string) (*Config, error) {
	c := NewConfig(p.tables)
	if err := p.loadAddresses(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to load addresses: %w", err)
	}
	if err := p.loadGroups(ctx, "cfg_address_group", c.Addresses); err != nil {
		return nil, fmt.Errorf("failed to load address groups: %w", err)
	}
	if err := p.loadServices(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}
	if err := p.loadGroups(ctx, "cfg_service_group", c.Services); err != nil {
		return nil, fmt.Errorf("failed to load service groups: %w", err)
	}
	if err := p.loadPolicies(ctx, c, ruleSet); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return c, nil
}

// optional tolerates tables some deployments do not have.
func (p *MariaDBParser) optional(table string, err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlNoSuchTable {
		p.logger.Warn("Optional table missing", "table", table)
		return nil
	}
	return err
}

func (p *MariaDBParser) loadAddresses(ctx context.Context, c *Config) error {
	rows, err := p.db.QueryContext(ctx, "SELECT object_name, address_type, subnet, start_ip, end_ip FROM cfg_address")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, addrType string
		var subnet, startIP, endIP sql.NullString
		if err := rows.Scan(&name, &addrType, &subnet, &startIP, &endIP); err != nil {
			return err
		}

		var pred *engine.Predicate
		switch addrType {
		case "ipmask", "subnet":
			r, err := netaddr.Parse(subnet.String)
			if err != nil {
				return fmt.Errorf("cfg_address %q: %w", name, err)
			}
			pred = engine.NewAddress(name, r)
		case "iprange":
			first, err := netaddr.ParseAddress(startIP.String)
			if err != nil {
				return fmt.Errorf("cfg_address %q: %w", name, err)
			}
			last, err := netaddr.ParseAddress(endIP.String)
			if err != nil {
				return fmt.Errorf("cfg_address %q: %w", name, err)
			}
			ranges, err := netaddr.Summarize(first, last)
			if err != nil {
				return fmt.Errorf("cfg_address %q: %w", name, err)
			}
			pred = engine.NewAddress(name, ranges...)
		default:
			pred = engine.NewExpression(name, "type "+addrType)
		}
		if c.builtin[name] {
			continue
		}
		if err := c.Addresses.Add(pred); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *MariaDBParser) loadServices(ctx context.Context, c *Config) error {
	rows, err := p.db.QueryContext(ctx, "SELECT object_name, protocol, port_range FROM cfg_service")
	if err != nil {
		return p.optional("cfg_service", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, proto string
		var portRange sql.NullString
		if err := rows.Scan(&name, &proto, &portRange); err != nil {
			return err
		}
		if c.builtin[name] {
			continue
		}
		n, ok := c.protocol(proto)
		if !ok {
			return fmt.Errorf("cfg_service %q: unknown protocol %q", name, proto)
		}
		var matches []engine.ServiceMatch
		for _, r := range strings.Fields(portRange.String) {
			m, err := portRangeMatch(n, r)
			if err != nil {
				return fmt.Errorf("cfg_service %q: %w", name, err)
			}
			matches = append(matches, m)
		}
		if len(matches) == 0 {
			protos, err := service.NewProtocolSet(n)
			if err != nil {
				return fmt.Errorf("cfg_service %q: %w", name, err)
			}
			matches = append(matches, engine.ServiceMatch{Protocols: &protos})
		}
		if err := c.Services.Add(engine.NewService(name, matches...)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *MariaDBParser) loadGroups(ctx context.Context, table string, objects *engine.Objects) error {
	rows, err := p.db.QueryContext(ctx, "SELECT group_name, members FROM "+table)
	if err != nil {
		return p.optional(table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var groupName, membersJSON string
		if err := rows.Scan(&groupName, &membersJSON); err != nil {
			return err
		}
		var members []string
		if err := json.Unmarshal([]byte(membersJSON), &members); err != nil {
			return fmt.Errorf("%s %q: bad member list: %w", table, groupName, err)
		}
		group := &engine.Predicate{Kind: engine.KindGroup, Name: groupName, Members: members}
		if err := objects.Add(group); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *MariaDBParser) loadPolicies(ctx context.Context, c *Config, ruleSet string) error {
	query := "SELECT priority, policy_id, src_objects, dst_objects, service_objects, action, is_enabled FROM cfg_policy"
	var args []any
	if ruleSet != "" {
		query += " WHERE ruleset = ?"
		args = append(args, ruleSet)
	}
	query += " ORDER BY priority ASC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var policy Policy
		var policyID int
		var srcJSON, dstJSON, svcJSON, isEnabled string

		if err := rows.Scan(&policy.Ordinal, &policyID, &srcJSON, &dstJSON, &svcJSON, &policy.Action, &isEnabled); err != nil {
			return err
		}
		policy.ID = strconv.Itoa(policyID)
		policy.Disabled = isEnabled != "enable"

		for _, f := range []struct {
			raw string
			dst *[]string
		}{
			{srcJSON, &policy.Source},
			{dstJSON, &policy.Destination},
			{svcJSON, &policy.Service},
		} {
			if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
				return fmt.Errorf("policy %d: bad object list: %w", policyID, err)
			}
		}
		c.Policies = append(c.Policies, policy)
	}
	return rows.Err()
}
