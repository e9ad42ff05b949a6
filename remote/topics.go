// Package remote is the pub/sub client a clone uses to broadcast and
// receive deltas, track peer presence, elect a domain's genesis
// clone, and run request/reply and streamed snapshot/revup exchanges
// over a Transport, per §4.6.
package remote

import "fmt"

func operationsTopic(domain string) string { return domain + "/operations" }

func registryTopic(domain string) string { return domain + "/registry" }

func presencePrefix(domain string) string { return domain + "/control/presence/" }

func presenceTopic(domain, id string) string { return presencePrefix(domain) + id }

func presenceWildcard(domain string) string { return presencePrefix(domain) + "#" }

func sendTopic(toID, fromID, messageID, addressPath string) string {
	return fmt.Sprintf("send/%s/%s/%s/%s", toID, fromID, messageID, addressPath)
}

func replyTopic(toID, fromID, messageID, sentMessageID string) string {
	return fmt.Sprintf("reply/%s/%s/%s/%s", toID, fromID, messageID, sentMessageID)
}
