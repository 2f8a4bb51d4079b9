package config

const (
	// TopicDownloaded is published by the download connector for each fetched
	// disclosure file: {file_path, checksum, collection_code, issuer_code, ...}.
	TopicDownloaded = "disclosure.downloaded"

	// TopicReady announces documents that finished the pipeline.
	TopicReady = "disclosure.ready"

	// TopicFailed announces documents that terminally failed.
	TopicFailed = "disclosure.failed"

	// TopicAlert carries operator alerts (configuration errors etc).
	TopicAlert = "disclosure.alert"
)
