// Package mqtt is the coordinator's broker session.
//
// The bridge publishes registry events, retained device snapshots and
// health through a Client and receives investigate/invoke commands from
// it. The serial side never waits on the broker: when the session drops,
// paho reconnects in the background and Client replays its subscriptions
// on the fresh clean session.
//
// Presence is tracked on nodelink/system/status with a retained Status
// document. The broker holds an "offline"/"lost" will for crashes; Close
// replaces it with "offline"/"shutdown".
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handleCommand)
package mqtt
