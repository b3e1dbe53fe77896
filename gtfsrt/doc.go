// Package gtfsrt fetches the realtime trip-update feed and maintains the
// delay overlay that board evaluation merges onto scheduled times.
package gtfsrt
