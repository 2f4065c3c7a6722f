package bluescan

import (
	"context"
	"time"

	"github.com/Krajiyah/ble-navigator/pkg/ipc"
	"github.com/Krajiyah/ble-navigator/pkg/loop"
	"github.com/Krajiyah/ble-navigator/pkg/models"
	"github.com/pkg/errors"
)

// ErrResultsLost is reported when the results stream ends on its own.
var ErrResultsLost = errors.New("results stream ended")

// Remote is a scan provider reached over IPC. Round trips run off the loop
// and their outcomes are posted back to it; errors from StartScan keep the
// provider's sentinels as their cause. Apart from Status, methods must be
// called on the loop.
type Remote struct {
	client *ipc.Client
	sched  loop.Scheduler

	gen int
	sub *ipc.Subscription
}

// NewRemote wraps client. Completions and results are posted onto sched.
func NewRemote(client *ipc.Client, sched loop.Scheduler) *Remote {
	return &Remote{client: client, sched: sched}
}

func (r *Remote) call(action string, fields map[string]interface{}, done func(error)) {
	r.sched.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), ipc.CallTimeout)
		defer cancel()
		err := fromWireCode(r.client.Call(ctx, action, fields, nil))
		return func() {
			if done != nil {
				done(err)
			}
		}
	})
}

// StartScan asks the provider to scan for d. done runs on the loop.
func (r *Remote) StartScan(d time.Duration, done func(error)) {
	r.call(actionStartScan, map[string]interface{}{"duration_ms": d.Milliseconds()}, done)
}

// StopScan asks the provider to end its scan early. done may be nil.
func (r *Remote) StopScan(done func(error)) {
	r.call(actionStopScan, nil, done)
}

// SetResultListener subscribes l to completed scans, replacing any earlier
// subscription from this proxy. nil only drops the current one.
func (r *Remote) SetResultListener(l models.ResultListener) {
	r.gen++
	r.drop()
	if l == nil {
		return
	}
	gen := r.gen
	r.sched.Go(func() func() {
		sub, err := r.client.Subscribe(context.Background(), streamResults, nil, func(ev ipc.Event) {
			var re ResultsEvent
			if err := ev.Decode(&re); err != nil {
				log.Warnw("undecodable scan result event", "err", err)
				return
			}
			r.sched.Post(func() {
				if r.gen == gen {
					l.OnScanResult(re.Tokens)
				}
			})
		})
		return func() { r.subscribed(gen, l, sub, err) }
	})
}

func (r *Remote) subscribed(gen int, l models.ResultListener, sub *ipc.Subscription, err error) {
	if gen != r.gen {
		if sub != nil {
			sub.Close()
		}
		return
	}
	if err != nil {
		log.Warnw("results subscription failed", "err", err)
		l.OnSubscriptionLost(errors.Wrap(err, "results subscription issue"))
		return
	}
	r.sub = sub
	go func() {
		<-sub.Done()
		r.sched.Post(func() {
			if r.gen != gen || r.sub != sub {
				return
			}
			r.sub = nil
			log.Warnw("results stream ended", "err", sub.Err())
			l.OnSubscriptionLost(errors.Wrapf(ErrResultsLost, "%v", sub.Err()))
		})
	}()
	l.OnSubscribed()
}

func (r *Remote) drop() error {
	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}

// Status fetches the provider status. It blocks and may be called from any
// goroutine.
func (r *Remote) Status(ctx context.Context) (StatusReport, error) {
	var report StatusReport
	err := r.client.Call(ctx, actionStatus, nil, &report)
	return report, err
}

// Close drops the results subscription; nothing reaches the listener
// afterwards. The client itself belongs to the caller.
func (r *Remote) Close() error {
	r.gen++
	return r.drop()
}
