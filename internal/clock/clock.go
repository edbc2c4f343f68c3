// Package clock gives tests a seam to control "now" without touching
// the system clock: a package-level var instead of calling time.Now
// directly.
package clock

import "time"

// Now is swapped out in tests; production code never calls time.Now directly.
var Now = time.Now
