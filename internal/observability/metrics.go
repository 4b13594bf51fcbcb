package observability

const (
	MBusMessages             MetricKey = "bus_messages_total"
	MBusHandlerDuration      MetricKey = "bus_handler_duration_seconds"
	MUowCommits              MetricKey = "uow_commits_total"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
)
