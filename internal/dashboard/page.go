package dashboard

// indexPage is the single-file operator view. It subscribes to /ws/marks for
// live prints and polls the JSON api for monitor state on the configured
// refresh interval.
const indexPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.AppName}}</title>
<style>
 body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
 h1 { font-size: 1.2em; }
 table { border-collapse: collapse; margin-bottom: 1.5em; }
 td, th { border: 1px solid #444; padding: 4px 10px; text-align: left; }
 .state-healthy { color: #7c7; }
 .state-degraded { color: #cc7; }
 .state-suspended { color: #c77; }
 button { background: #333; color: #ddd; border: 1px solid #666; padding: 4px 12px; cursor: pointer; }
</style>
</head>
<body>
<h1>{{.AppName}}</h1>
<table>
 <tr><th>mark</th><td id="mark">-</td></tr>
 <tr><th>version</th><td id="version">-</td></tr>
 <tr><th>derivation</th><td id="derivation">-</td></tr>
 <tr><th>monitor</th><td id="state">-</td></tr>
</table>
<button id="rearm">re-arm</button>
<h1>sources</h1>
<table id="sources"><tr><th>source</th><th>price</th><th>staleness ms</th></tr></table>
<script>
var refresh = {{.RefreshIntervalMs}};
function poll() {
  fetch('/api/monitor').then(function(r) { return r.json(); }).then(function(m) {
    var el = document.getElementById('state');
    el.textContent = m.state;
    el.className = 'state-' + m.state;
    var table = document.getElementById('sources');
    while (table.rows.length > 1) { table.deleteRow(1); }
    Object.keys(m.sources).sort().forEach(function(id) {
      var row = table.insertRow();
      row.insertCell().textContent = id;
      row.insertCell().textContent = m.sources[id].price;
      row.insertCell().textContent = m.sources[id].staleness_ms;
    });
  });
}
document.getElementById('rearm').addEventListener('click', function() {
  fetch('/api/monitor/rearm', {method: 'POST'}).then(poll);
});
var scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
var ws = new WebSocket(scheme + location.host + '/ws/marks');
ws.onmessage = function(ev) {
  var snap = JSON.parse(ev.data);
  document.getElementById('mark').textContent = snap.value;
  document.getElementById('version').textContent = snap.version;
  document.getElementById('derivation').textContent = snap.derivation;
};
poll();
setInterval(poll, refresh);
</script>
</body>
</html>
`
