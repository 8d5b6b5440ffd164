// Copyright 2024 The Flowplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"

	"github.com/flowplane/flowplane/datapath"
	"github.com/flowplane/flowplane/pkg/flow"
	"github.com/flowplane/flowplane/pkg/log"
)

// runFloodController drains miss upcalls and acts as a learning switch: the
// source address of every miss pins its ingress port, and a flow is installed
// that outputs to the learned destination port, or floods while the
// destination is still unknown. The missed frame itself is re-injected so the
// first packet of a flow is not lost.
func runFloodController(ctx context.Context, dp *datapath.Datapath) error {
	logger := log.New("controller", dp.Name())
	learned := make(map[[6]byte]datapath.PortID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dp.UpcallReady():
		}
		for {
			u, err := dp.RecvUpcall(datapath.MaskAll)
			if errors.Is(err, datapath.ErrWouldBlock) {
				break
			}
			if err != nil {
				return err
			}
			if u.Reason != datapath.ReasonMiss {
				continue
			}
			handleMiss(dp, logger, learned, u)
		}
	}
}

func handleMiss(
	dp *datapath.Datapath,
	logger log.Logger,
	learned map[[6]byte]datapath.PortID,
	u datapath.Upcall,
) {
	ingress := datapath.PortID(u.Key.InPort)
	if prev, ok := learned[u.Key.EthSrc]; !ok || prev != ingress {
		learned[u.Key.EthSrc] = ingress
		logger.Debug("Learned address", "eth", u.Key.EthSrc, "port", ingress)
	}
	actions := outputActions(dp, learned, &u.Key, ingress)
	if len(actions) > 0 {
		key := u.Key
		_, err := dp.FlowPut(key.MarshalAttrs(),
			datapath.MarshalActions(actions), datapath.PutCreate)
		if err != nil && !errors.Is(err, datapath.ErrExists) {
			logger.Debug("Installing reactive flow", "err", err)
		}
	}
	md := flow.Metadata{InPort: u.Key.InPort}
	err := dp.Execute(u.Frame, md, datapath.MarshalActions(actions))
	if err != nil {
		logger.Debug("Re-injecting missed frame", "err", err)
	}
}

// outputActions returns a single output to the learned destination port, or
// one output per port other than the ingress when the destination is still
// unknown.
func outputActions(
	dp *datapath.Datapath,
	learned map[[6]byte]datapath.PortID,
	key *flow.Key,
	ingress datapath.PortID,
) []datapath.Action {
	if dst, ok := learned[key.EthDst]; ok && dst != ingress {
		return []datapath.Action{datapath.OutputAction{Port: dst}}
	}
	var actions []datapath.Action
	for _, p := range dp.Ports() {
		if p.ID == ingress {
			continue
		}
		actions = append(actions, datapath.OutputAction{Port: p.ID})
	}
	return actions
}
