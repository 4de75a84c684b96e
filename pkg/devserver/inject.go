package devserver

import (
	"bytes"
)

// ScriptPath is the URL of the live reload client
const ScriptPath = "/__livereload.js"

// SocketPath is the URL of the live reload websocket
const SocketPath = "/__livereload"

var scriptTag = []byte(`<script src="` + ScriptPath + `" async></script>`)

const clientScript = `(function () {
	var proto = location.protocol === "https:" ? "wss://" : "ws://";

	function refreshStyles() {
		var links = document.querySelectorAll('link[rel="stylesheet"]');
		for (var i = 0; i < links.length; i++) {
			var url = new URL(links[i].href);
			url.searchParams.set("livereload", Date.now());
			links[i].href = url.toString();
		}
	}

	function connect() {
		var ws = new WebSocket(proto + location.host + "` + SocketPath + `");
		ws.onmessage = function (ev) {
			var msg = JSON.parse(ev.data);
			if (msg.command === "css") {
				refreshStyles();
			} else {
				location.reload();
			}
		};
		ws.onclose = function () {
			setTimeout(connect, 1000);
		};
	}

	connect();
})();
`

// injectScript adds the live reload script tag before the last </body> or at the end of the document
func injectScript(page []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx == -1 {
		return append(append([]byte{}, page...), scriptTag...)
	}

	result := make([]byte, 0, len(page)+len(scriptTag))
	result = append(result, page[:idx]...)
	result = append(result, scriptTag...)
	return append(result, page[idx:]...)
}
