package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>Turnstile Agent API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/events" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Stream Docs →</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream · Turnstile Agent</title>
  <style>
    body {
      margin: 0 auto;
      max-width: 860px;
      padding: 24px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    code, pre { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 13px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border-bottom: 1px solid #30363d; padding: 6px 8px; text-align: left; vertical-align: top; }
    th { color: #e6edf3; }
  </style>
</head>
<body>
  <p><a href="/docs">← API reference</a></p>
  <h1>Event stream</h1>
  <p><code>GET /api/v1/events</code> is a Server-Sent Events stream of solver lifecycle events.
  Each message carries the event type in the <code>event:</code> field and a JSON body in <code>data:</code>.</p>

  <h2>Filters</h2>
  <table>
    <tr><th>Query</th><th>Meaning</th></tr>
    <tr><td><code>tabs=1,2</code></td><td>Only events for these tab ids. A non-numeric id is rejected with 400.</td></tr>
    <tr><td><code>types=clicked,session_ended</code></td><td>Only these event types.</td></tr>
  </table>

  <h2>Event types</h2>
  <table>
    <tr><th>Type</th><th>Sent when</th></tr>
    <tr><td><code>session_started</code></td><td>A tab was activated for solving.</td></tr>
    <tr><td><code>attached</code></td><td>A command channel was opened to the tab.</td></tr>
    <tr><td><code>attach_failed</code></td><td>Every attach attempt failed.</td></tr>
    <tr><td><code>clicked</code></td><td>A challenge widget was clicked; carries <code>x</code> and <code>y</code>.</td></tr>
    <tr><td><code>reattach</code></td><td>The channel was lost and the run is attaching again.</td></tr>
    <tr><td><code>session_ended</code></td><td>The run finished; <code>reason</code> is one of solved, exhausted, stopped, tab_closed, reattach, canceled, invalid_policy or error.</td></tr>
    <tr><td><code>relay_message</code></td><td>A trusted challenge frame posted a begin or end message; <code>action</code> is start or stop whatever token the page used.</td></tr>
  </table>

  <h2>Example</h2>
  <pre>curl -N 'http://127.0.0.1:8190/api/v1/events?tabs=3'

event: clicked
data: {"type":"clicked","tab_id":3,"session_id":"5b0c...","x":60,"y":35,"time":"2026-01-01T10:00:00Z"}</pre>
</body>
</html>`
