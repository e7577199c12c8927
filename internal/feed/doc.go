// Package feed wraps the broadcast registry with the channel-naming and
// payload-shaping conventions of the two live feeds: scraping sessions and
// document analyses. The scraping side also owns the session monitor, a
// polling loop that diffs session state and republishes only on change.
package feed
