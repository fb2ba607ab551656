package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/aurelia-health/emrgraph/internal/types"
)

// Neo4jClient implements Client for Neo4j graph databases.
// It provides connection pooling, automatic retries, and health monitoring.
type Neo4jClient struct {
	config ClientConfig
	driver neo4j.DriverWithContext
}

// NewNeo4jClient creates a new Neo4j client with the given configuration.
// The client must be connected via Connect() before use.
func NewNeo4jClient(config ClientConfig) (*Neo4jClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Neo4jClient{
		config: config,
	}, nil
}

// Connect establishes a connection to the Neo4j database.
// Uses exponential backoff for connection retries.
func (c *Neo4jClient) Connect(ctx context.Context) error {
	auth := neo4j.BasicAuth(c.config.Username, c.config.Password, "")

	driverConfig := func(config *neo4j.Config) {
		config.MaxConnectionPoolSize = c.config.MaxConnectionPoolSize
		config.ConnectionAcquisitionTimeout = c.config.ConnectionTimeout
		config.MaxTransactionRetryTime = c.config.MaxTransactionRetryTime
		// Encryption is controlled by URI scheme (bolt:// vs bolt+s://).
	}

	var driver neo4j.DriverWithContext
	var lastErr error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		var err error
		driver, err = neo4j.NewDriverWithContext(c.config.URI, auth, driverConfig)
		if err == nil {
			err = driver.VerifyConnectivity(ctx)
			if err == nil {
				c.driver = driver
				return nil
			}
		}

		lastErr = err

		if ctx.Err() != nil {
			return types.WrapError(ErrCodeGraphConnectionFailed,
				"connection attempt cancelled", ctx.Err())
		}

		// Backoff delay: baseDelay * 2^attempt, capped at the connection timeout.
		delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > c.config.ConnectionTimeout {
			delay = c.config.ConnectionTimeout
		}

		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			return types.WrapError(ErrCodeGraphConnectionFailed,
				"connection attempt cancelled", ctx.Err())
		}
	}

	return types.WrapError(ErrCodeGraphConnectionFailed,
		fmt.Sprintf("failed to connect after %d attempts", maxRetries), lastErr)
}

// Close releases all resources and closes the database connection.
func (c *Neo4jClient) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}

	if err := c.driver.Close(ctx); err != nil {
		return types.WrapError(ErrCodeGraphConnectionClosed,
			"failed to close driver", err)
	}

	c.driver = nil
	return nil
}

// Health returns the current health status of the Neo4j connection.
func (c *Neo4jClient) Health(ctx context.Context) types.HealthStatus {
	if c.driver == nil {
		return types.Unhealthy("driver not initialized")
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.driver.VerifyConnectivity(healthCtx); err != nil {
		return types.Unhealthy(fmt.Sprintf("connectivity check failed: %v", err))
	}

	return types.Healthy("connected to Neo4j")
}

// Read executes a Cypher query inside a managed read transaction.
func (c *Neo4jClient) Read(ctx context.Context, cypher string, params map[string]any) (QueryResult, error) {
	if c.driver == nil {
		return QueryResult{}, types.NewError(ErrCodeGraphConnectionClosed,
			"driver not connected")
	}

	startTime := time.Now()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, c.runAndCollect(ctx, cypher, params))
	if err != nil {
		return QueryResult{}, types.WrapRetryableError(ErrCodeGraphQueryFailed,
			"query execution failed", err)
	}

	queryResult, ok := result.(QueryResult)
	if !ok {
		return QueryResult{}, types.NewError(ErrCodeGraphResultParsing,
			"transaction returned an unexpected result type")
	}
	queryResult.Summary.ExecutionTime = time.Since(startTime)

	return queryResult, nil
}

// Write executes a Cypher statement inside a managed write transaction.
func (c *Neo4jClient) Write(ctx context.Context, cypher string, params map[string]any) (QueryResult, error) {
	if c.driver == nil {
		return QueryResult{}, types.NewError(ErrCodeGraphConnectionClosed,
			"driver not connected")
	}

	startTime := time.Now()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, c.runAndCollect(ctx, cypher, params))
	if err != nil {
		return QueryResult{}, types.WrapRetryableError(ErrCodeGraphWriteFailed,
			"write execution failed", err)
	}

	queryResult, ok := result.(QueryResult)
	if !ok {
		return QueryResult{}, types.NewError(ErrCodeGraphResultParsing,
			"transaction returned an unexpected result type")
	}
	queryResult.Summary.ExecutionTime = time.Since(startTime)

	return queryResult, nil
}

// ReadGraph executes a Cypher query and collects node and relationship values
// (including values nested in lists) into a typed Subgraph.
func (c *Neo4jClient) ReadGraph(ctx context.Context, cypher string, params map[string]any) (Subgraph, error) {
	result, err := c.Read(ctx, cypher, params)
	if err != nil {
		return Subgraph{}, err
	}

	return collectSubgraph(result), nil
}

// runAndCollect returns a transaction work function that runs the statement
// and converts the driver records into a QueryResult.
func (c *Neo4jClient) runAndCollect(ctx context.Context, cypher string, params map[string]any) neo4j.ManagedTransactionWork {
	return func(tx neo4j.ManagedTransaction) (any, error) {
		neoResult, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		records, err := neoResult.Collect(ctx)
		if err != nil {
			return nil, err
		}

		summary, err := neoResult.Consume(ctx)
		if err != nil {
			return nil, err
		}

		return convertNeo4jResult(records, summary), nil
	}
}

// convertNeo4jResult converts Neo4j records and summary to our QueryResult format.
func convertNeo4jResult(records []*neo4j.Record, summary neo4j.ResultSummary) QueryResult {
	result := QueryResult{
		Records: make([]map[string]any, 0, len(records)),
		Columns: []string{},
	}

	if len(records) > 0 {
		result.Columns = records[0].Keys
	}

	for _, record := range records {
		recordMap := make(map[string]any)
		for i, key := range record.Keys {
			recordMap[key] = record.Values[i]
		}
		result.Records = append(result.Records, recordMap)
	}

	if summary != nil && summary.Counters() != nil {
		counters := summary.Counters()
		result.Summary = QuerySummary{
			NodesCreated:         counters.NodesCreated(),
			NodesDeleted:         counters.NodesDeleted(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			RelationshipsDeleted: counters.RelationshipsDeleted(),
			PropertiesSet:        counters.PropertiesSet(),
		}
	}

	return result
}

// collectSubgraph walks every record value and lifts dbtype.Node and
// dbtype.Relationship values (directly or inside lists) into a Subgraph.
// Duplicate nodes and relationships are collapsed by element ID.
func collectSubgraph(result QueryResult) Subgraph {
	sub := Subgraph{}
	seenNodes := make(map[string]bool)
	seenRels := make(map[string]bool)

	var visit func(v any)
	visit = func(v any) {
		switch val := v.(type) {
		case dbtype.Node:
			if !seenNodes[val.ElementId] {
				seenNodes[val.ElementId] = true
				sub.Nodes = append(sub.Nodes, Node{
					ID:     val.ElementId,
					Labels: val.Labels,
					Props:  val.Props,
				})
			}
		case dbtype.Relationship:
			if !seenRels[val.ElementId] {
				seenRels[val.ElementId] = true
				sub.Relationships = append(sub.Relationships, Relationship{
					StartID: val.StartElementId,
					EndID:   val.EndElementId,
					Type:    val.Type,
					Props:   val.Props,
				})
			}
		case []any:
			for _, item := range val {
				visit(item)
			}
		}
	}

	for _, record := range result.Records {
		for _, v := range record {
			visit(v)
		}
	}

	return sub
}
