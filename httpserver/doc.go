/*
Package httpserver implements the soul gateway: an HTTP front for a
SoulStore that moves encrypted soul payloads without ever seeing their keys.

# Gateway API

	POST /api/v1/souls                      store a payload, tags in X-Soul-Tag-* headers
	GET  /api/v1/souls/{id}                 fetch a payload by object id
	GET  /api/v1/agents/{agent}/souls?limit list object ids for an agent, newest first

Uploads are limited to storage.MaxPayloadSize bytes and, when configured,
rate limited per client address. storage.GatewayStore is the matching client.

# Custody API

When HTTPServerConfig.Custody is set, share holders can unlock the soul key
on the gateway:

	GET  /custody/status                    {"unlocked": false, "pending": 2}
	POST /custody/share                     {"share": "1:ab..:f00d..", "signature": "..", "holder_pubkey": ".."}
	POST /custody/lock                      wipe the key
	GET  /api/v1/agents/{agent}/revive      resurrect the latest soul (423 while locked)

# Operations

	GET /livez, /readyz                     health checks
	GET /drain, /undrain                    toggle readiness for load balancers
	/debug/pprof/                           when EnablePprof is set

Metrics are served separately on HTTPServerConfig.MetricsAddr.

# Usage

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:  ":8080",
		MetricsAddr: ":8090",
		Log:         log,
	}, store)
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
