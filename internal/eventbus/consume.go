package eventbus

import (
	"context"
	"sync"
)

// ConsumeEnvelope hands every envelope from sub to handler until ctx is
// done or sub ends. wg, when set, is marked done on return.
func ConsumeEnvelope[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, handler func(TypedEnvelope[T])) {
	if wg != nil {
		defer wg.Done()
	}
	if sub == nil {
		return
	}
	for {
		env, ok := sub.Next(ctx)
		if !ok {
			return
		}
		handler(env)
	}
}

// Consume is ConsumeEnvelope for handlers that only need the payload.
func Consume[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, handler func(T)) {
	ConsumeEnvelope(ctx, sub, wg, func(env TypedEnvelope[T]) { handler(env.Payload) })
}
