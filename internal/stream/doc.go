// Package stream provides the publish/subscribe primitives behind the
// distributor's live views.
//
// Value is a hot holder that replays its current value to every new
// subscriber and conflates bursts of updates. Shared runs one upstream
// computation for any number of subscribers, replays the last computed value
// to late subscribers, and tears the computation down only after it has had
// no subscribers for a grace period. Keyed keeps one Shared per parameter and
// forgets it once it goes idle. Merge turns several Values into a single
// conflated trigger channel.
//
// Subscriptions never block producers: each subscriber holds at most one
// undelivered value and a newer value replaces an older one.
package stream
