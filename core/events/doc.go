// Package events defines what a conversation reports to the outside world
// and the manager that delivers it.
//
// Event kinds:
//
//   - ConversationStarted (conversation.started): the pipeline is running.
//   - TranscriptMessage (transcript.message): a transcript message was added
//     or finished playing. Bot messages carry the text actually spoken.
//   - Interrupted (conversation.interrupted): the human interrupted the bot.
//   - HumanPresenceCheck (conversation.human_presence_check): the bot asked
//     whether the human is still there after a silence.
//   - ConversationEnded (conversation.ended): the conversation terminated.
//   - TranscriptComplete (transcript.complete): the full transcript, published
//     once when the conversation terminates.
//   - RecordingAvailable (recording.available): a call recording was stored
//     by the telephony provider.
package events
