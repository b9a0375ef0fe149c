// Package metrics exposes the bot counters in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts remote actions and job outcomes. Every successful post, like or reply
// also counts as one engagement.
type Recorder struct {
	reg *prometheus.Registry

	Posts       prometheus.Counter
	Likes       prometheus.Counter
	Replies     prometheus.Counter
	Engagements prometheus.Counter
	RateLimited prometheus.Counter
	Jobs        *prometheus.CounterVec
}

// New registers the counters on a private registry. withRuntime adds the Go and process
// collectors.
func New(withRuntime bool) *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		Posts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posts_total",
			Help: "Total number of posts created",
		}),
		Likes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "likes_total",
			Help: "Total number of likes",
		}),
		Replies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replies_total",
			Help: "Total number of replies",
		}),
		Engagements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagements_total",
			Help: "Total number of engagements (posts, likes and replies)",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests refused by the rate limiter",
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Job runs by job and outcome",
		}, []string{"job", "outcome"}),
	}
	r.reg.MustRegister(r.Posts, r.Likes, r.Replies, r.Engagements, r.RateLimited, r.Jobs)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

func (r *Recorder) Posted() {
	r.Posts.Inc()
	r.Engagements.Inc()
}

func (r *Recorder) Liked() {
	r.Likes.Inc()
	r.Engagements.Inc()
}

func (r *Recorder) Replied() {
	r.Replies.Inc()
	r.Engagements.Inc()
}

func (r *Recorder) Throttled() { r.RateLimited.Inc() }

func (r *Recorder) JobFinished(job, outcome string) { r.Jobs.WithLabelValues(job, outcome).Inc() }

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
