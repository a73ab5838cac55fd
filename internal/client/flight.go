// Package client pushes benchmark result batches to a Longbow server over
// Apache Flight.
package client

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ResultsClient ships benchmark result record batches to a Flight endpoint.
type ResultsClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewResultsClient connects to the Flight server at addr.
func NewResultsClient(addr string) (*ResultsClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	return &ResultsClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
	}, nil
}

// Push sends a record batch of benchmark results to the named dataset.
func (c *ResultsClient) Push(ctx context.Context, dataset string, record arrow.RecordBatch) error {
	desc := &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{dataset},
	}

	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(desc)

	if err := writer.Write(record); err != nil {
		return err
	}
	return writer.Close()
}

// Close tears down the underlying connection.
func (c *ResultsClient) Close() error {
	return c.conn.Close()
}
