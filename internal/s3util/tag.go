package s3util

// projectTag is the URL-encoded object tagging string for cost allocation.
const projectTag = "Project=video-highlights"

// ProjectTagging returns the tagging string for PutObjectInput.Tagging.
func ProjectTagging() *string {
	t := projectTag
	return &t
}
