package runner

var customBuckets = map[string][]float64{
	"bulk_delete_api_request_latency": {
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, // seconds, up to the default API timeout
	},
	"bulk_delete_publish_time": {
		0.1, 0.5, 1, 5, 10, 30, 60, 300,
	},
}
