//go:build linux
// +build linux

package mntmonitor_test

import (
	"fmt"
	"log"
	"time"

	"github.com/opcoder0/mntmonitor"
)

func ExampleMonitor_EnableFanotify() {
	monitor, err := mntmonitor.New()
	if err != nil {
		log.Fatal("Cannot create monitor", err)
	}
	defer monitor.Close()
	if err := monitor.EnableFanotify(true, -1); err != nil {
		// older kernel or missing CAP_SYS_ADMIN
		if err := monitor.EnableKernel(true); err != nil {
			log.Fatal("Cannot enable kernel monitor", err)
		}
	}
}

func ExampleMonitor_NextEvent() {
	monitor, err := mntmonitor.New(mntmonitor.WithKernelVeiled(true))
	if err != nil {
		log.Fatal("Cannot create monitor", err)
	}
	defer monitor.Close()
	if err := monitor.EnableFanotify(true, -1); err != nil {
		log.Fatal("Cannot enable fanotify monitor", err)
	}
	for {
		ok, err := monitor.Wait(time.Second)
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			continue
		}
		for {
			change, err := monitor.NextChange()
			if err != nil {
				log.Fatal(err)
			}
			if change == nil {
				break
			}
			for event, ok := monitor.NextEvent(); ok; event, ok = monitor.NextEvent() {
				fmt.Println(change.Path, event.Action, event.MountID)
			}
		}
	}
}
