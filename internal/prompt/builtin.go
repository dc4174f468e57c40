package prompt

// builtinTemplates maps template filename to content. Stage templates derive
// the seed prompt the enhancer refines; they consume the raw user prompt
// plus whatever the stage declared it needs from earlier winners.
var builtinTemplates = map[string]string{
	"keyframe.md":   keyframeTemplate,
	"storyboard.md": storyboardTemplate,
	"clip.md":       clipTemplate,
	"diversify.md":  diversifyTemplate,
}

const keyframeTemplate = `A single high-impact advertising keyframe image.

Subject: {{seed_prompt}}

Professional product photography, sharp focus on the subject, clean
composition with room for copy, studio-grade lighting.
`

const storyboardTemplate = `A storyboard frame for an advertising video.

Subject: {{seed_prompt}}
{{#if previous_prompt}}
Established visual direction:
{{previous_prompt}}
{{/if}}

Match the established look of the campaign keyframe. Show a distinct moment
of the narrative, framed for 16:9 video.
`

const clipTemplate = `A short advertising video clip.

Subject: {{seed_prompt}}
{{#if previous_prompt}}
Storyboard direction for this segment:
{{previous_prompt}}
{{/if}}

Smooth, deliberate camera motion. The clip must read clearly without sound
and hold the product in frame throughout.
`

// diversifyTemplate wraps a seed prompt when a stage retries after batch
// exhaustion: the enhancer is pushed toward a substantively different take.
const diversifyTemplate = `{{seed_prompt}}

Previous generations from this prompt all failed. Take a substantively
different approach: change the setting, framing, or style while keeping the
subject and intent.
`
