// Package runlog persists an optional audit trail of sorter runs to
// MongoDB, grounded on the teacher's lmtp.Server/imap_core wiring
// (mongo.Connect/mongo.Database) for database access and api/main.go's
// connection-setup shape. This is a supplemental, opt-in component:
// spec.md's core has no notion of a persistent run history, but the
// domain stack's mongo-driver dependency is otherwise unused once the
// IMAP/LMTP server layers are dropped, so it is repurposed here as a
// queryable record of what a run did.
package runlog

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Run is one persisted run record.
type Run struct {
	Hostname  string    `bson:"hostname"`
	StartedAt time.Time `bson:"started_at"`
	Processed int       `bson:"processed"`
	Rejected  int       `bson:"rejected"`
	Errors    []string  `bson:"errors,omitempty"`
}

// Recorder writes run records to a "runs" collection in MongoDB.
type Recorder struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials uri and returns a Recorder backed by the "mdsort"
// database's "runs" collection.
func Connect(uri string) (*Recorder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &Recorder{
		client: client,
		coll:   client.Database("mdsort").Collection("runs"),
	}, nil
}

// Record inserts one run summary.
func (r *Recorder) Record(report Reportable) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := Run{
		Hostname:  hostname(),
		StartedAt: time.Now(),
		Processed: report.RunProcessed(),
		Rejected:  report.RunRejected(),
		Errors:    report.RunErrors(),
	}
	_, err := r.coll.InsertOne(ctx, run)
	return err
}

// Reportable is satisfied by engine.Report without runlog importing
// package engine.
type Reportable interface {
	RunProcessed() int
	RunRejected() int
	RunErrors() []string
}

// Recent returns the n most recently started runs, newest first.
func (r *Recorder) Recent(n int64) ([]Run, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(n)
	cur, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var runs []Run
	if err := cur.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Close disconnects the underlying MongoDB client.
func (r *Recorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
