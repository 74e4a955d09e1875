// Package node keeps the model of every remote device on the network.
//
// The Registry is fed by the dispatcher: every device-originated message
// passes through Registry.Update before any waiting exchange sees it. From
// those messages the registry discovers devices, tracks liveness and queues
// devices whose catalog is incomplete for investigation.
//
// Investigation walks a device through INFO, CATALOG_COUNT, each
// CATALOG_ENTRY and each PARAMETER descriptor. Every round is retried up to
// Config.RoundAttempts times; a round that never gets a reply aborts the walk
// and leaves what was learned in place. A hardware reset queues a light
// investigation that only re-reads INFO.
//
// Devices first heard without a 64-bit serial number are kept under a
// placeholder identity (see IsPlaceholder) and re-keyed once the serial is
// learned, merging into an existing entry if there is one.
//
// Snapshots of the registry are persisted through a Repository;
// SQLiteRepository stores them in the schema under migrations/.
package node
