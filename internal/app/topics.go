package app

// TopicJobQueued is the NSQ topic a job-insert trigger publishes to,
// letting every worker's scheduler wake immediately instead of waiting for
// its fallback timer. Each worker subscribes on its own ephemeral channel
// (see app.ephemeralChannel) so the notification fans out to all of them
// rather than being load-balanced across a shared channel.
const TopicJobQueued = "weaver.job.queued"
