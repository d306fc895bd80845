package tracking

import "time"

// Cookie names exchanged with the tracking client.
const (
	CookieVisitorID     = "ps_vid"
	CookieSessionID     = "ps_sid"
	CookieFirstSource   = "ps_first_src"
	CookieCurrentSource = "ps_cur_src"
)

// CookieWrite is one cookie the HTTP layer must set on the response.
type CookieWrite struct {
	Name   string
	Value  string
	MaxAge time.Duration
}

// CookieJar is the per-request cookie contract: values read from the
// request, writes collected for the response. Later writes of the same
// name replace earlier ones.
type CookieJar struct {
	in  map[string]string
	out []CookieWrite
}

// NewCookieJar wraps the cookies presented by the client.
func NewCookieJar(in map[string]string) *CookieJar {
	if in == nil {
		in = map[string]string{}
	}
	return &CookieJar{in: in}
}

// Get returns the request value of a cookie.
func (j *CookieJar) Get(name string) (string, bool) {
	v, ok := j.in[name]
	return v, ok && v != ""
}

// Set queues a cookie for the response.
func (j *CookieJar) Set(name, value string, maxAge time.Duration) {
	for i := range j.out {
		if j.out[i].Name == name {
			j.out[i] = CookieWrite{Name: name, Value: value, MaxAge: maxAge}
			return
		}
	}
	j.out = append(j.out, CookieWrite{Name: name, Value: value, MaxAge: maxAge})
}

// Writes returns the queued response cookies in first-set order.
func (j *CookieJar) Writes() []CookieWrite {
	out := make([]CookieWrite, len(j.out))
	copy(out, j.out)
	return out
}
