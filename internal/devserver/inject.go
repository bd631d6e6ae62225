package devserver

import "bytes"

const clientTag = `<script src="` + RouteClient + `"></script>`

// InjectClient inserts the live-reload client before </body>, or appends it
// when the document has no body end tag.
func InjectClient(document []byte) []byte {
	lower := bytes.ToLower(document)
	index := bytes.LastIndex(lower, []byte("</body>"))
	if index < 0 {
		return append(append([]byte(nil), document...), clientTag...)
	}
	out := make([]byte, 0, len(document)+len(clientTag))
	out = append(out, document[:index]...)
	out = append(out, clientTag...)
	out = append(out, document[index:]...)
	return out
}

const clientScript = `(function () {
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var url = scheme + location.host + "` + RouteLiveReload + `";
  var delay = 500;
  function connect() {
    var socket = new WebSocket(url);
    socket.onopen = function () { delay = 500; };
    socket.onmessage = function (event) {
      var message = JSON.parse(event.data);
      if (message.type === "reload") { location.reload(); }
    };
    socket.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 5000);
    };
  }
  connect();
})();
`
