package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gridsim/internal/topology"
	"gridsim/pkg/api"
)

const nodeColumns = `t.id, t.parent_id, t.substation_id, t.node_type, t.name, t.connection_kw`

// GetNodeByID returns nil, nil for an unknown id
func (s *Store) GetNodeByID(ctx context.Context, id uuid.UUID) (*api.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM simulation_engine.topology_nodes t WHERE t.id = $1`, id)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	return node, nil
}

// GetHousesByParentNodeID returns every house in the node's subtree
func (s *Store) GetHousesByParentNodeID(ctx context.Context, id uuid.UUID) ([]api.Node, error) {
	query := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM simulation_engine.topology_nodes WHERE parent_id = $1
			UNION
			SELECT n.id FROM simulation_engine.topology_nodes n
			JOIN subtree s ON n.parent_id = s.id
		)
		SELECT ` + nodeColumns + `
		FROM simulation_engine.topology_nodes t
		JOIN subtree s ON t.id = s.id
		WHERE t.node_type = 'HOUSE'
		ORDER BY t.name, t.id
	`
	return s.queryNodes(ctx, query, id)
}

// GetHousesBySubstationID returns the houses registered against a substation
func (s *Store) GetHousesBySubstationID(ctx context.Context, id uuid.UUID) ([]api.Node, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM simulation_engine.topology_nodes t
		WHERE t.substation_id = $1 AND t.node_type = 'HOUSE'
		ORDER BY t.name, t.id
	`
	return s.queryNodes(ctx, query, id)
}

// LoadSubtree snapshots a node and its descendants into an in-memory graph
func (s *Store) LoadSubtree(ctx context.Context, rootID uuid.UUID) (*topology.Graph, error) {
	query := `
		WITH RECURSIVE subtree AS (
			SELECT id FROM simulation_engine.topology_nodes WHERE id = $1
			UNION
			SELECT n.id FROM simulation_engine.topology_nodes n
			JOIN subtree s ON n.parent_id = s.id
		)
		SELECT ` + nodeColumns + `
		FROM simulation_engine.topology_nodes t
		JOIN subtree s ON t.id = s.id
	`
	nodes, err := s.queryNodes(ctx, query, rootID)
	if err != nil {
		return nil, err
	}
	return topology.NewGraphBuilder().Build(nodes)
}

// CreateNode inserts a topology node
func (s *Store) CreateNode(ctx context.Context, n *api.Node) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO simulation_engine.topology_nodes (id, parent_id, substation_id, node_type, name, connection_kw)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, nullUUID(n.ParentID), nullUUID(n.SubstationID), string(n.Type), n.Name, nullFloat(n.ConnectionKW),
	)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]api.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]api.Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*api.Node, error) {
	var (
		n          api.Node
		parent     uuid.NullUUID
		substation uuid.NullUUID
		nodeType   string
		connection sql.NullFloat64
	)
	if err := row.Scan(&n.ID, &parent, &substation, &nodeType, &n.Name, &connection); err != nil {
		return nil, err
	}
	n.Type = api.NodeType(nodeType)
	if parent.Valid {
		n.ParentID = &parent.UUID
	}
	if substation.Valid {
		n.SubstationID = &substation.UUID
	}
	if connection.Valid {
		n.ConnectionKW = &connection.Float64
	}
	return &n, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
