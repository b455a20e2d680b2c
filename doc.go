// Package mntmonitor provides a pollable monitor for changes of the Linux
// mount table.
//
// A Monitor multiplexes any number of backends into one epoll descriptor:
//   - EnableFanotify watches a mount namespace through fanotify (Linux 6.15 or later)
//     and reports the ID of every mount attached or detached. Several namespaces
//     can be watched by one Monitor.
//   - EnableKernel watches /proc/self/mountinfo and reports that something changed,
//     on any kernel.
//
// The caller either blocks in Wait or adds Fd to its own poll loop, then
// drains NextChange. For fanotify changes NextEvent yields the mount
// events of the change, and LookupMount resolves a mount ID to its
// mountinfo entry while the mount is still attached.
//
// When the monitor is veiled (WithKernelVeiled, SetKernelVeiled) and the
// veil marker file exists, kernel events are read and discarded because a
// userspace mount helper owns the change notification.
//
// The monitor itself never blocks outside Wait and never logs above debug
// level; pass a logger with WithLogger to see its traces.
package mntmonitor
