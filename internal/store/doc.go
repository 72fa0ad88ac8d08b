// Package store declares the cycle-progress repository contract. Drivers live
// under internal/storage; this package imports none of them.
package store
