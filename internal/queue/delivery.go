package queue

import "context"

type deliveryKey struct{}

// WithDelivery returns a copy of ctx carrying the claimed job, so a handler
// can inspect how it was delivered.
func WithDelivery(ctx context.Context, job *Job) context.Context {
	return context.WithValue(ctx, deliveryKey{}, job)
}

// Delivery returns the job carried by ctx, if any.
func Delivery(ctx context.Context) (*Job, bool) {
	job, ok := ctx.Value(deliveryKey{}).(*Job)
	return job, ok && job != nil
}

// Redelivered reports whether the job carried by ctx was claimed before,
// either after a failed attempt or after recovery from a stale lock. A
// context without a job is a first delivery.
func Redelivered(ctx context.Context) bool {
	job, ok := Delivery(ctx)
	return ok && job.Attempts > 1
}
