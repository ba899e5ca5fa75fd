package deviceapi

import (
	"net/http"
)

const (
	DeviceAPIPrefix    = "/device_api/v1"
	ReportingAPIPrefix = "/reporting_api/v1"
)

// Routes registers the device and reporting API on mux. wrap decorates every
// handler, e.g. with CORS.
func Routes(mux *http.ServeMux, devices *DeviceAPI, reports *ReportLog, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(h http.Handler) http.Handler { return h }
	}
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, wrap(h))
	}

	devicesPath := DeviceAPIPrefix + "/instances/{instanceId}/devices/fcm"
	devicePath := devicesPath + "/{deviceId}"

	handle("POST "+devicesPath, devices.RegisterDevice)
	handle("GET "+devicesPath, devices.ListDevices)
	handle("GET "+devicePath, devices.GetDevice)
	handle("DELETE "+devicePath, devices.DeleteDevice)
	handle("PUT "+devicePath+"/token", devices.RefreshToken)
	handle("GET "+devicePath+"/interests", devices.GetInterests)
	handle("PUT "+devicePath+"/interests", devices.SetSubscriptions)
	handle("POST "+devicePath+"/interests/{interest}", devices.Subscribe)
	handle("DELETE "+devicePath+"/interests/{interest}", devices.Unsubscribe)
	handle("PUT "+devicePath+"/metadata", devices.SetMetadata)
	handle("PUT "+devicePath+"/user", devices.SetUser)

	if reports != nil {
		handle("POST "+ReportingAPIPrefix+"/instances/{instanceId}/event-type/{eventType}", reports.SubmitEvent)
	}

	// preflight
	handle("OPTIONS "+DeviceAPIPrefix+"/", func(w http.ResponseWriter, r *http.Request) {})
}
