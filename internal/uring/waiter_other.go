//go:build !linux

package uring

import "errors"

var errUnsupported = errors.New("uring: interrupt descriptors require linux")

type ringWaiter struct{}

func newRingWaiter(int, uint32) (*ringWaiter, error) {
	return nil, errUnsupported
}

func (w *ringWaiter) Wait(int64) (bool, error) { return false, errUnsupported }

func (w *ringWaiter) Close() error { return nil }

type pollWaiter struct{}

func newPollWaiter(int) (*pollWaiter, error) {
	return nil, errUnsupported
}

func (w *pollWaiter) Wait(int64) (bool, error) { return false, errUnsupported }

func (w *pollWaiter) Close() error { return nil }
