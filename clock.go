package main

import "time"

// Clock 排程時間來源，測試中以假時鐘替換
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer 可取消的單次計時器
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realClock struct{}

// RealClock 系統時鐘
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Stop() bool { return r.t.Stop() }
