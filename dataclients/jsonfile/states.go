package jsonfile

import (
	"github.com/tidwall/gjson"

	"github.com/zalando/trafficrouter/snapshot"
)

const (
	statesName = "states file"
	statesKey  = "caches"
)

func parseCacheState(v gjson.Result) snapshot.State {
	st := snapshot.State{Available: optBool(v.Get("isAvailable"), true)}
	if v4 := v.Get("ipv4Available"); v4.Exists() {
		st.Available = v4.Bool()
	}

	if v6 := v.Get("ipv6Available"); v6.Exists() {
		available := v6.Bool()
		st.AvailableIPv6 = &available
	}

	return st
}

func parseDeliveryServiceState(v gjson.Result) snapshot.State {
	st := snapshot.State{Available: optBool(v.Get("isAvailable"), true)}
	if dl := v.Get("disabledLocations"); dl.IsArray() {
		st.DisabledLocations = append([]string{}, stringList(dl)...)
	}

	return st
}

// parseStates reads the health states published by the monitoring:
//
//	{"caches": {"c1": {"isAvailable": true, "ipv6Available": false}},
//	 "deliveryServices": {"ds1": {"isAvailable": true, "disabledLocations": []}}}
func parseStates(data []byte, c *snapshot.Config) error {
	doc, err := parseDocument(statesName, data)
	if err != nil {
		return err
	}

	caches, err := requireObject(doc, statesName, statesKey)
	if err != nil {
		return err
	}

	c.CacheStates = make(map[string]snapshot.State)
	caches.ForEach(func(id, v gjson.Result) bool {
		c.CacheStates[id.String()] = parseCacheState(v)
		return true
	})

	c.DeliveryServiceStates = make(map[string]snapshot.State)
	field(doc, deliveryServicesKey).ForEach(func(id, v gjson.Result) bool {
		c.DeliveryServiceStates[id.String()] = parseDeliveryServiceState(v)
		return true
	})

	return nil
}
