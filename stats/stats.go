// Package stats provides cheap, const-gated perf counters for the
// allocator core, in the style of biscuit's kernel-wide counters.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Enabled gates whether counters actually count. Flipping it to true and
// rebuilding turns every Counter_t in the tree into a real atomic counter;
// left false, Inc is a single branch and the store never happens.
const Enabled = false

// Counter_t is a monotonically increasing statistical counter.
type Counter_t int64

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add increments the counter by n.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

// Load returns the current value.
func (c *Counter_t) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Dump renders every Counter_t field of st (a struct, passed by value or
// pointer) as a human-readable block. Returns "" when counters are
// compiled out, matching biscuit's Stats2String.
func Dump(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
